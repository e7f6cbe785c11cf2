package anpr

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
	ErrUpstream     = errors.New("upstream error")
)
