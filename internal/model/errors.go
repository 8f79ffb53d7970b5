package model

import "errors"

var (
	// ErrConfiguration marks a setup that can never work, such as asking for
	// more devices than the backend provides.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceExhausted marks a table that cannot honor a requested capacity.
	ErrResourceExhausted = errors.New("resource exhausted")
)
