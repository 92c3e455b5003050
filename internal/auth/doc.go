// Package auth holds the operator credentials of the enrollment station.
//
// A station has a single operator account configured in security.jwt. The
// password may be stored as plaintext (bench setups) or as an Argon2id PHC
// string produced by HashPassword. Successful logins receive a short-lived
// HS256 access token; there are no refresh tokens or roles.
package auth
