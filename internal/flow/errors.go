package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("invalid schedule config")

	// ErrEmptySchedule is returned when a run is started with no participants.
	ErrEmptySchedule = errors.New("schedule has no participants")

	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrRunInProgress rejects changes that are only allowed between runs.
	ErrRunInProgress = errors.New("run in progress")
)

// ConfigError describes a rejected schedule configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid schedule config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}
