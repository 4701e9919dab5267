package apperrors

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code a tunnel handle attaches to its failures.
type ErrorCode int

const (
	NoError ErrorCode = iota
	Unexpected
	VPNPermissionNotGranted
	InvalidServerCredentials
	UDPRelayNotEnabled
	ServerUnreachable
	VPNStartFailure
	IllegalServerConfiguration
	ShadowsocksStartFailure
	ConfigureSystemProxyFailure
	NoAdminPermissions
	UnsupportedRoutingTable
	SystemMisconfigured
)

var (
	ErrUnexpected                  = errors.New("unexpected error")
	ErrVPNPermissionNotGranted     = errors.New("vpn permission not granted")
	ErrInvalidServerCredentials    = errors.New("invalid server credentials")
	ErrUDPRelayNotEnabled          = errors.New("udp relay not enabled")
	ErrServerUnreachable           = errors.New("server unreachable")
	ErrVPNStartFailure             = errors.New("vpn start failure")
	ErrShadowsocksStartFailure     = errors.New("shadowsocks start failure")
	ErrConfigureSystemProxyFailure = errors.New("configure system proxy failure")
	ErrNoAdminPermissions          = errors.New("no admin permissions")
	ErrUnsupportedRoutingTable     = errors.New("unsupported routing table")
	ErrSystemMisconfigured         = errors.New("system misconfigured")
)

var codeKinds = map[ErrorCode]error{
	Unexpected:                  ErrUnexpected,
	VPNPermissionNotGranted:     ErrVPNPermissionNotGranted,
	InvalidServerCredentials:    ErrInvalidServerCredentials,
	UDPRelayNotEnabled:          ErrUDPRelayNotEnabled,
	ServerUnreachable:           ErrServerUnreachable,
	VPNStartFailure:             ErrVPNStartFailure,
	IllegalServerConfiguration:  ErrIllegalServerConfiguration,
	ShadowsocksStartFailure:     ErrShadowsocksStartFailure,
	ConfigureSystemProxyFailure: ErrConfigureSystemProxyFailure,
	NoAdminPermissions:          ErrNoAdminPermissions,
	UnsupportedRoutingTable:     ErrUnsupportedRoutingTable,
	SystemMisconfigured:         ErrSystemMisconfigured,
}

func (c ErrorCode) String() string {
	if c == NoError {
		return "no error"
	}
	if kind, ok := codeKinds[c]; ok {
		return kind.Error()
	}
	return fmt.Sprintf("error code %d", int(c))
}

// NativeError is what a tunnel handle returns when it can name the failure.
type NativeError struct {
	Code    ErrorCode
	Message string
}

func (e *NativeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("native error %d: %s", int(e.Code), e.Code)
	}
	return fmt.Sprintf("native error %d: %s", int(e.Code), e.Message)
}

// PluginError is the translated form of a NativeError. errors.Is matches the
// sentinel for its code.
type PluginError struct {
	Code  ErrorCode
	Cause error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("outline plugin error: %s", e.Code)
}

func (e *PluginError) Is(target error) bool {
	kind, ok := codeKinds[e.Code]
	if !ok {
		kind = ErrUnexpected
	}
	return target == kind
}

func (e *PluginError) Unwrap() error { return e.Cause }

// FromErrorCode maps a native code onto the error taxonomy.
func FromErrorCode(code ErrorCode, cause error) error {
	return &PluginError{Code: code, Cause: cause}
}

// Translate converts coded native errors into PluginError and passes every
// other error through unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var native *NativeError
	if errors.As(err, &native) {
		return FromErrorCode(native.Code, err)
	}
	return err
}
