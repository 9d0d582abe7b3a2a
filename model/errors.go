package model

import "fmt"

// ConfigurationError reports a provider configuration that cannot be used,
// such as a missing API key. It is raised when a client is built and is never
// worth retrying.
type ConfigurationError struct {
	Provider ProviderKind
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s provider misconfigured: %s", e.Provider, e.Reason)
}

// NotFoundError reports a missing or inactive resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// TransportError reports a failed exchange with a remote provider: a
// connection failure, a timeout or a non-success status.
type TransportError struct {
	Provider string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError wraps cause for the named provider.
func NewTransportError(provider string, cause error) *TransportError {
	return &TransportError{
		Provider: provider,
		Cause:    cause,
	}
}
