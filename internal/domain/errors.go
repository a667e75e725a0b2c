package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotInitialized     = errors.New("not initialized")
	ErrUnknownExchange    = errors.New("unknown exchange")
	ErrAdvisorUnavailable = errors.New("advisor unavailable")
)
