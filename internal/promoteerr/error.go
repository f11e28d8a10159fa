// Package promoteerr defines the errors that terminate a promotion run.
package promoteerr

import (
	"fmt"
	"strings"
	"time"
)

// ConfigError is returned when required settings are missing or invalid.
type ConfigError struct {
	// Missing contains the names of the settings that are unset.
	Missing []string
	// Err is set when a setting is present but invalid.
	Err error
}

func NewMissingConfigError(names ...string) *ConfigError {
	return &ConfigError{Missing: names}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("invalid configuration: %s", e.Err)
	}

	if e.Err == nil {
		return fmt.Sprintf("configuration incomplete, missing: %s", strings.Join(e.Missing, ", "))
	}

	return fmt.Sprintf("configuration incomplete, missing: %s: %s", strings.Join(e.Missing, ", "), e.Err)
}

// HostingServiceError wraps a failed GitHub API operation.
type HostingServiceError struct {
	// Op is the name of the client operation that failed.
	Op string
	// Err is the wrapped original error
	Err error
	// Retryable is true when re-running later might succeed, e.g. on
	// ratelimit or server errors.
	Retryable bool
	// After is the earliest point in time that the operation can be
	// retried, zero when unknown.
	After time.Time
}

func NewHostingServiceError(op string, originalErr error) *HostingServiceError {
	return &HostingServiceError{
		Op:  op,
		Err: originalErr,
	}
}

func NewRetryableHostingServiceError(op string, originalErr error, retryAfter time.Time) *HostingServiceError {
	return &HostingServiceError{
		Op:        op,
		Err:       originalErr,
		Retryable: true,
		After:     retryAfter,
	}
}

func (e *HostingServiceError) Unwrap() error {
	return e.Err
}

func (e *HostingServiceError) Error() string {
	if !e.Retryable {
		return fmt.Sprintf("github %s failed: %s", e.Op, e.Err)
	}

	if e.After.IsZero() {
		return fmt.Sprintf("github %s failed (retryable): %s", e.Op, e.Err)
	}

	return fmt.Sprintf("github %s failed (retryable after %s): %s", e.Op, e.After, e.Err)
}

// AmbiguousStateError is returned when more then one open pull request
// exists for the head and base branch pair.
type AmbiguousStateError struct {
	Head         string
	Base         string
	PullRequests []int
}

func (e *AmbiguousStateError) Error() string {
	nrs := make([]string, 0, len(e.PullRequests))
	for _, nr := range e.PullRequests {
		nrs = append(nrs, fmt.Sprintf("#%d", nr))
	}

	return fmt.Sprintf(
		"there are multiple open pull requests from %s to %s (%s), resolve them manually",
		e.Head, e.Base, strings.Join(nrs, ", "),
	)
}

// ConsistencyError is returned when the latest version heading of the
// target branch changelog does not exist in the source branch changelog.
type ConsistencyError struct {
	Path    string
	Heading string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: latest version %q of the target branch not found in source changelog", e.Path, e.Heading)
}
