// Package lifecycle implements the key state machine on top of a store.
//
// A key is issued unused, consumed at most once by Verify and eventually
// removed by Cleanup or an administrator. Users bind a derived identity to a
// key through RegisterOrFetch, which is idempotent per identity.
//
// The engine holds no locks around its read-check-write sequences. The store
// is the only synchronisation point, so two concurrent Verify calls for the
// same unused key may both report it valid.
package lifecycle
