package repository

import "errors"

// Sentinel errors returned by repositories.  Handlers compare with
// errors.Is and map them onto HTTP status codes.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrOrgNotFound     = errors.New("organization not found")
	ErrOrgHasData      = errors.New("organization still has data")
	ErrPrefixTaken     = errors.New("organization prefix already in use")
	ErrGuildTaken      = errors.New("guild already registered")
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrSessionNotFound = errors.New("session not found")
)
