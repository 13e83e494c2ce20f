package vdevq

import "errors"

var (
	// ErrInvalidConfig is returned when queue tunables are inconsistent.
	ErrInvalidConfig = errors.New("vdevq: invalid config")

	// ErrInvalidRequest is returned by Submit for malformed requests.
	ErrInvalidRequest = errors.New("vdevq: invalid request")

	// ErrAlreadySubmitted is returned when a request is submitted twice.
	ErrAlreadySubmitted = errors.New("vdevq: request already submitted")

	// ErrNilDriver is returned by New when no driver is supplied.
	ErrNilDriver = errors.New("vdevq: nil driver")
)
