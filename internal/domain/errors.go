package domain

import "errors"

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrSessionActive     = errors.New("device session already running")
	ErrRestartsExhausted = errors.New("restart attempts exhausted")
)
