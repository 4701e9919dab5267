// Package apperrors holds the error kinds surfaced by the repository and
// server adapters.
package apperrors

import (
	"errors"
	"fmt"

	"outline-manager/internal/domain"
)

var (
	ErrServerAlreadyAdded         = errors.New("server already added")
	ErrUnsupportedCipher          = errors.New("shadowsocks cipher not supported")
	ErrIllegalServerConfiguration = errors.New("illegal server configuration")
	ErrRegularNative              = errors.New("native error")
)

// ServerAlreadyAddedError carries the tracked server that conflicts with the
// config being added.
type ServerAlreadyAddedError struct {
	Server domain.Server
}

func (e *ServerAlreadyAddedError) Error() string {
	return fmt.Sprintf("server already added: %s", e.Server.ID())
}

func (e *ServerAlreadyAddedError) Unwrap() error { return ErrServerAlreadyAdded }

type UnsupportedCipherError struct {
	Cipher string
}

func NewUnsupportedCipherError(cipher string) *UnsupportedCipherError {
	if cipher == "" {
		cipher = "unknown"
	}
	return &UnsupportedCipherError{Cipher: cipher}
}

func (e *UnsupportedCipherError) Error() string {
	return fmt.Sprintf("shadowsocks cipher not supported: %s", e.Cipher)
}

func (e *UnsupportedCipherError) Unwrap() error { return ErrUnsupportedCipher }

// RegularNativeError is returned for disconnect failures, whatever the cause.
type RegularNativeError struct {
	Err error
}

func (e *RegularNativeError) Error() string {
	return fmt.Sprintf("native error: %v", e.Err)
}

// Is keeps the original cause reachable with errors.Is while still matching
// ErrRegularNative.
func (e *RegularNativeError) Is(target error) bool { return target == ErrRegularNative }

func (e *RegularNativeError) Unwrap() error { return e.Err }
