package controller

import (
	"errors"
	"fmt"

	"github.com/leonardotrapani/micstream/internal/recording"
)

// Kind classifies errors reported on the status surface.
type Kind string

const (
	PermissionDenied  Kind = "permission_denied"
	DeviceUnavailable Kind = "device_unavailable"
	CodecUnsupported  Kind = "codec_unsupported"
	ConnectionError   Kind = "connection"
	EncodingError     Kind = "encoding"
)

var (
	ErrPermissionDenied  = errors.New("microphone access denied")
	ErrDeviceUnavailable = errors.New("no usable microphone")
	ErrCodecUnsupported  = errors.New("no supported audio encoding")
	ErrConnection        = errors.New("connection to speech service failed")
	ErrEncoding          = errors.New("recording could not be encoded")
)

func (k Kind) sentinel() error {
	switch k {
	case PermissionDenied:
		return ErrPermissionDenied
	case DeviceUnavailable:
		return ErrDeviceUnavailable
	case CodecUnsupported:
		return ErrCodecUnsupported
	case ConnectionError:
		return ErrConnection
	default:
		return ErrEncoding
	}
}

// Error is a classified failure. errors.Is matches it against the sentinel
// of its Kind as well as the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e != nil && target == e.Kind.sentinel()
}

func acquireError(err error) *Error {
	if errors.Is(err, recording.ErrPermissionDenied) {
		return &Error{Kind: PermissionDenied, Err: err}
	}
	return &Error{Kind: DeviceUnavailable, Err: err}
}
