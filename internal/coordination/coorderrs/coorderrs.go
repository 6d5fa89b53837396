// Package coorderrs defines the coordination runtime's error taxonomy.
//
// Each kind is a distinct exported type so callers can use errors.As
// to branch on what went wrong rather than matching on message text.
package coorderrs

import "fmt"

// TransportError is raised when a bus call exhausts its retry policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is raised when an inbox or room message fails to decode.
// Callers receiving this should skip the message and advance the cursor,
// never retry it.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidCompression is a ParseError variant for an unrecognized
// "compression=" content-type parameter.
type InvalidCompression struct {
	Method string
}

func (e *InvalidCompression) Error() string {
	return fmt.Sprintf("invalid compression method %q", e.Method)
}

// MissingType is a ParseError variant: the JSON body had no "type" field.
type MissingType struct{}

func (e *MissingType) Error() string { return "message missing \"type\" field" }

// UnknownMessageType is a ParseError variant: "type" did not match any
// registered coordination message variant.
type UnknownMessageType struct {
	Type string
}

func (e *UnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// NoRoom is raised by Broadcast when the context has no room_id.
type NoRoom struct{}

func (e *NoRoom) Error() string { return "coordination context has no room" }

// NoCoordinator is raised by SendToCoordinator when the context has no
// coordinator_id.
type NoCoordinator struct{}

func (e *NoCoordinator) Error() string { return "coordination context has no coordinator" }

// UnsupportedInvite is raised by worker bootstrap for an invite URL scheme
// the core does not recognize.
type UnsupportedInvite struct {
	Scheme string
}

func (e *UnsupportedInvite) Error() string {
	return fmt.Sprintf("unsupported invite scheme %q", e.Scheme)
}

// UnsupportedLocalInvite is raised for a local:// invite whose backing
// path could not be extracted, or that names ":memory:".
type UnsupportedLocalInvite struct {
	URL string
}

func (e *UnsupportedLocalInvite) Error() string {
	return fmt.Sprintf("unsupported local invite %q", e.URL)
}

// PermissionTimeout is raised when a permission RPC's deadline elapses
// without a matching response. Callers map this to a deny decision.
type PermissionTimeout struct {
	RequestID string
}

func (e *PermissionTimeout) Error() string {
	return fmt.Sprintf("permission request %s timed out", e.RequestID)
}

// AuthError is raised when a bus call's secret does not resolve to any
// known identity in the given namespace.
type AuthError struct {
	NsID string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: no identity in namespace %s matches the given secret", e.NsID)
}

// NotRoot is raised by Rotate when called on a sub-agent context.
type NotRoot struct {
	AgentName string
}

func (e *NotRoot) Error() string {
	return fmt.Sprintf("rotate: %s is not the root context", e.AgentName)
}

// MigrationConflict is raised when a legacy migration finds a ".backup"
// directory already present, meaning the directory was already migrated.
type MigrationConflict struct {
	Dir string
}

func (e *MigrationConflict) Error() string {
	return fmt.Sprintf("migration: %s already has a .backup directory", e.Dir)
}

// CorruptJSONL describes a single bad line encountered while reading a
// JSONL file. It is always handled by skipping the line and logging a
// warning; it is exported so tests can assert on skip behavior.
type CorruptJSONL struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptJSONL) Error() string {
	return fmt.Sprintf("corrupt jsonl %s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptJSONL) Unwrap() error { return e.Err }
