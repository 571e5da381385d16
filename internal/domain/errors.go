package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrProviderFailure = errors.New("provider failure")
	ErrImageDisabled   = errors.New("image generation is disabled in settings")
	ErrNoCoverProduced = errors.New("image generation did not return a cover")
	ErrUnknownModel    = errors.New("unknown model id")
)
