// Package http implements the keyforge HTTP handlers. Handlers stay thin:
// they decode and validate the request, call the lifecycle service and
// render the outcome.
//
// # Response shapes
//
// JSON routes (get_key, save_user, clean_old_keys) answer failures with
// RFC 7807 problem details through errors.ErrorHandler. The text routes
// (verify_key, delete_key, delete_user) answer with a bare word so simple
// clients can compare bodies directly:
//
//	GET /api/verify_key?key=KF_1357-9ACE-FHKM-R135  ->  valid | used | expired | invalid | error
//
// Route mounting, rate limiting and the admin gate live in internal/app;
// nothing in this package checks credentials.
package http
