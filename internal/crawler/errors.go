package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget is returned when a target specifier normalizes to nothing usable.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNoLayoutMatch reports that no extractor recognized a page. It is
	// never surfaced as a crawl failure.
	ErrNoLayoutMatch = errors.New("no layout matched page")
	// ErrNotFound is returned by stores for unknown keys.
	ErrNotFound = errors.New("not found")
)

// TransportError reports a failed fetch or a non-success status.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports content that could not be parsed as expected.
type ParseError struct {
	URL         string
	ContentType string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.URL, e.ContentType, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsFetchFailure reports whether err is a transport or parse failure.
func IsFetchFailure(err error) bool {
	var te *TransportError
	var pe *ParseError
	return errors.As(err, &te) || errors.As(err, &pe)
}
