package domain

import "errors"

var (
	// ErrInvalidCredential collapses unknown identifier and wrong secret into one failure.
	ErrInvalidCredential = errors.New("identity: invalid credential")
	// ErrWeakSecret indicates the secret failed policy checks before hashing.
	ErrWeakSecret = errors.New("identity: secret fails password policy")
	// ErrDuplicateIdentity signals the normalized email is already registered.
	ErrDuplicateIdentity = errors.New("identity: identity already exists")
	// ErrExpiredToken indicates the token passed its expiry.
	ErrExpiredToken = errors.New("identity: token expired")
	// ErrRevokedToken indicates the token or an ancestor session was revoked.
	ErrRevokedToken = errors.New("identity: token revoked")
	// ErrMalformedToken indicates unparsable or unknown token material.
	ErrMalformedToken = errors.New("identity: token malformed")
	// ErrAudienceMismatch indicates the token was minted for a different audience.
	ErrAudienceMismatch = errors.New("identity: token audience mismatch")
	// ErrInvalidClient covers unknown clients, bad client secrets and disallowed grants.
	ErrInvalidClient = errors.New("identity: invalid client")
	// ErrInvalidRedirectURI indicates the redirect URI is not registered for the client.
	ErrInvalidRedirectURI = errors.New("identity: redirect uri not registered")
	// ErrInvalidScope indicates requested scopes exceed what client or user may assert.
	ErrInvalidScope = errors.New("identity: scope not allowed")
	// ErrInvalidGrant coalesces every authorization-code failure mode.
	ErrInvalidGrant = errors.New("identity: invalid grant")
	// ErrStorageUnavailable marks port failures so callers can retry; never
	// substituted for a domain failure.
	ErrStorageUnavailable = errors.New("identity: storage unavailable")
)
