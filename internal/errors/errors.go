package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code is the stable identifier of an error class across the system.
type Code string

// Severity classifies how serious an error is for alerting and audit purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes carries the default behaviour attached to an error code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeBusFailure            Code = "BUS_FAILURE"
	CodeGatewayFailure        Code = "GATEWAY_FAILURE"
	CodePluginFault           Code = "PLUGIN_FAULT"
	CodeCapabilityUnsupported Code = "CAPABILITY_UNSUPPORTED"

	// Load-time failures. Each one is fatal for the admission of a single
	// plugin into the registry and never for the host process.
	CodeMissingEntryPoint         Code = "PLUGIN_MISSING_ENTRYPOINT"
	CodeUnloadableModule          Code = "PLUGIN_UNLOADABLE_MODULE"
	CodeNoExport                  Code = "PLUGIN_NO_EXPORT"
	CodeMissingManifest           Code = "PLUGIN_MISSING_MANIFEST"
	CodeIncompleteGatewayContract Code = "PLUGIN_INCOMPLETE_GATEWAY"
	CodeIncompleteServiceContract Code = "PLUGIN_INCOMPLETE_SERVICE"
	CodeUnknownPluginType         Code = "PLUGIN_UNKNOWN_TYPE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeConflict: {
			Message:  "resource conflict",
			Severity: SeverityWarning,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeBusFailure: {
			Message:   "event bus failure",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodeGatewayFailure: {
			Message:  "payment gateway failure",
			Severity: SeverityWarning,
			Alert:    true,
		},
		CodePluginFault: {
			Message:  "plugin misbehaved",
			Severity: SeverityWarning,
			Alert:    true,
		},
		CodeCapabilityUnsupported: {
			Message:  "plugin does not support this operation",
			Severity: SeverityInfo,
		},
		CodeMissingEntryPoint: {
			Message:  "plugin entry point not found",
			Severity: SeverityWarning,
		},
		CodeUnloadableModule: {
			Message:  "plugin module cannot be loaded",
			Severity: SeverityWarning,
		},
		CodeNoExport: {
			Message:  "plugin module exports no Plugin symbol",
			Severity: SeverityWarning,
		},
		CodeMissingManifest: {
			Message:  "plugin exposes no manifest",
			Severity: SeverityWarning,
		},
		CodeIncompleteGatewayContract: {
			Message:  "gateway plugin misses mandatory methods",
			Severity: SeverityWarning,
		},
		CodeIncompleteServiceContract: {
			Message:  "service plugin misses mandatory methods",
			Severity: SeverityWarning,
		},
		CodeUnknownPluginType: {
			Message:  "manifest declares an unknown plugin type",
			Severity: SeverityWarning,
		},
	}
)

// Register lets other packages add error codes during initialisation.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes registered for a code, falling back to
// the UNKNOWN attributes when the code was never registered.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the uniform error type used across the host.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option mutates an Error during construction.
type Option func(*Error)

// WithMetadata attaches a key/value pair to the error.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New builds an error for the given code. An empty message falls back to the
// registered default for the code.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf builds an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new error of the given code.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches two errors by code.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the bare message without the code prefix or cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity resolves the severity for this error from the code registry.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From extracts the uniform error type out of an arbitrary error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or UNKNOWN for foreign errors.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// ShouldAlert reports whether err warrants paging per its code attributes.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Alert
	}
	return false
}
