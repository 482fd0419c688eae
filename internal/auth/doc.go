// Package auth implements authentication and authorisation for Emberlink Core.
//
// Two credential shapes coexist:
//
//   - Admin users authenticate with username/password (Argon2id) and receive
//     a short-lived signed JWT for the management API.
//   - Paired clients hold a long-lived opaque bearer token. Only the SHA-256
//     hash of the token is stored; the raw value is shown exactly once at
//     pairing completion.
//
// Client credentials carry an area scope that limits which event streams a
// connection may subscribe to. Admin credentials are unscoped.
package auth
