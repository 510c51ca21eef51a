package models

import "errors"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrInvalidRange       = errors.New("invalid range")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMalformedPayload   = errors.New("malformed payload")
)
