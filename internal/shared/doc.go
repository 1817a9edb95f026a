// Package shared holds helpers that are used by more than one keyforge
// package and belong to no domain layer.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output, a manually advanced clock and well-formed key fixtures.
package shared
