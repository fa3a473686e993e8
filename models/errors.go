package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrInvalidState: the row exists but its status forbids the change.
	ErrInvalidState = errors.New("post is not in a state that allows this")
)
