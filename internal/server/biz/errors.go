package biz

import (
	"errors"
)

var (
	ErrInvalidJWT      = errors.New("invalid jwt token")
	ErrInvalidPassword = errors.New("invalid password")
	ErrEmailTaken      = errors.New("email already registered")
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("operation not permitted")
	ErrInternal        = errors.New("server internal error, please try again later")
)
