package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownModel indicates the requested model is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// ErrUnsupportedOperation indicates the configured client cannot fulfill the requested action.
var ErrUnsupportedOperation = errors.New("unsupported provider operation")

// ConfigError reports a deployment problem such as a missing API key. It is
// not retryable.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// InputError reports a request the caller has to change before it can be
// sent to the provider.
type InputError struct {
	Param   string
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

func (e *InputError) Unwrap() error {
	return e.Err
}
