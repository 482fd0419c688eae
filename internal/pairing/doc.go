// Package pairing implements PIN-based device onboarding.
//
// An admin starts a pairing session and reads the six-digit PIN off the
// management UI. The device submits the PIN over the public verify
// endpoint; the PIN alone identifies the session, so the device never
// needs to know a session ID. A verified session is then completed by the
// admin, which registers the client and mints its scoped credential.
//
// Sessions move pending -> verified -> completed. Expiry, attempt lockout
// and cancellation are terminal. Exactly one verifier can win a session;
// concurrent submissions of the same PIN race on a compare-and-set status
// transition.
package pairing
