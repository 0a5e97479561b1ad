package opsqueue

import "errors"

var (
	ErrEntryNotFound = errors.New("queue entry not found")

	ErrDuplicateEntry = errors.New("queue entry id already exists")
)
