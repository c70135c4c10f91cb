// Package repository holds what the job record store backends share.
package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrTerminal is returned when a write would move a COMPLETED or FAILED
	// job, or complete a job that never entered PROCESSING.
	ErrTerminal = errors.New("job already in terminal state")
)
