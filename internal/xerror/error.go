// Package xerror defines the error taxonomy shared across Hermes
// components.
package xerror

import "fmt"

// ConfigError indicates a rejected configuration, surfaced at load time
// and never during a run.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// ResourceError indicates that segment/semaphore creation, executable
// lookup, or a version check failed during initialization.
type ResourceError struct {
	Reason string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("resource error: %s", e.Reason)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// NewResourceError wraps err with a resource-acquisition reason.
func NewResourceError(reason string, err error) error {
	return &ResourceError{Reason: reason, Err: err}
}

// FrameTimeout indicates workers failed to complete a frame within the
// configured timeout. Fatal for the simulation.
type FrameTimeout struct {
	Frame   uint64
	Waiting string
}

func (e *FrameTimeout) Error() string {
	return fmt.Sprintf("frame %d timed out waiting for %s", e.Frame, e.Waiting)
}

// NewFrameTimeout builds a FrameTimeout for the given frame number.
func NewFrameTimeout(frame uint64, waiting string) error {
	return &FrameTimeout{Frame: frame, Waiting: waiting}
}

// SignalNotFound indicates an unknown qualified signal name on get/set.
// Not fatal; converted to a control-channel error.
type SignalNotFound struct {
	Name string
}

func (e *SignalNotFound) Error() string {
	return fmt.Sprintf("unknown signal: %s", e.Name)
}

// NewSignalNotFound builds a SignalNotFound for the given name.
func NewSignalNotFound(name string) error {
	return &SignalNotFound{Name: name}
}

// ProtocolError indicates invalid JSON, an unknown action, or a
// malformed parameter on the control channel. The connection remains
// open.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// NewProtocolError builds a ProtocolError with a formatted reason.
func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ClientDisconnect indicates a normal or abnormal client connection
// close. Never fatal.
type ClientDisconnect struct {
	Err error
}

func (e *ClientDisconnect) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client disconnected: %v", e.Err)
	}
	return "client disconnected"
}

func (e *ClientDisconnect) Unwrap() error { return e.Err }

// NewClientDisconnect wraps the underlying close/read error, if any.
func NewClientDisconnect(err error) error {
	return &ClientDisconnect{Err: err}
}
