package auth

import "errors"

var (
	// ErrTokenInvalid is returned for tokens with a bad signature, issuer,
	// algorithm or expiry.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidHash is returned when a stored hash is not an Argon2id PHC string.
	ErrInvalidHash = errors.New("auth: invalid password hash")
)
