// Package common defines shared constants and sentinel errors used across
// the relay server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Startup errors. Fatal: the server must not accept crypto-dependent
	// requests when configuration is incomplete.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotReady is returned while the server keypair is still being
	// initialized.
	ErrNotReady = errors.New("server keys not ready")

	// Crypto errors (seal, unwrap or decrypt failure).
	ErrCrypto = errors.New("crypto error")

	// Key errors. In fanout these skip a single recipient.
	ErrKeyNotFound = errors.New("public key not found")
	ErrKeyFormat   = errors.New("malformed public key")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Request validation.
	ErrValidation = errors.New("validation error")

	// ErrInvalidContentType marks an attempt to run the storage decryption
	// path on content that is not stored that way (FILE vs PLAIN).
	ErrInvalidContentType = errors.New("invalid content type")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrRateLimited = errors.New("rate limited")
)
