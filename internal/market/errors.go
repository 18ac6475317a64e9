package market

import (
	"errors"
	"fmt"
)

// ErrorKind classifies price fetch failures.
type ErrorKind int

const (
	NetworkError ErrorKind = iota + 1
	HTTPStatus
	MalformedPayload
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkError:
		return "network error"
	case HTTPStatus:
		return "http status"
	case MalformedPayload:
		return "malformed payload"
	default:
		return "unknown"
	}
}

// FetchError is returned by every failed FetchPrice call.
type FetchError struct {
	Kind    ErrorKind
	Status  int
	Payload string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == HTTPStatus:
		return fmt.Sprintf("HTTP %d", e.Status)
	case e.Kind == MalformedPayload && e.Payload != "":
		return fmt.Sprintf("unexpected API response: %s", e.Payload)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches sentinels by kind so errors.Is(err, ErrNetwork) works on wrapped
// fetch errors.
func (e *FetchError) Is(target error) bool {
	var other *FetchError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Status == 0 && other.Err == nil
}

var (
	ErrNetwork          = &FetchError{Kind: NetworkError}
	ErrHTTPStatus       = &FetchError{Kind: HTTPStatus}
	ErrMalformedPayload = &FetchError{Kind: MalformedPayload}
)
