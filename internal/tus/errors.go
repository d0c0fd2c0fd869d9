package tus

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the upload does not exist in the store.
	ErrNotFound = errors.New("upload not found")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("object with the same content already exists")
	// ErrStore matches every *StoreError.
	ErrStore = errors.New("object store failure")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")
	// ErrTooLarge signals that the payload exceeds the advertised maximum size.
	ErrTooLarge = errors.New("upload exceeds maximum size")
)

// ProtocolKind classifies which protocol precondition failed.
type ProtocolKind int

const (
	KindMissingHeader ProtocolKind = iota
	KindMalformedHeader
	KindUnsupportedMethod
	KindUnsupportedProtocol
	KindUnsupportedVersion
	KindMissingObjectName
)

// ProtocolError reports a missing or malformed required header, or an
// unsupported method or transfer protocol.
type ProtocolError struct {
	Kind   ProtocolKind
	Header string
	Msg    string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// ErrMissingObjectName is returned by existence queries whose metadata does
// not name an object. It is reported like a missing object but is a
// different condition.
var ErrMissingObjectName = &ProtocolError{
	Kind:   KindMissingObjectName,
	Header: HeaderUploadMetadata,
	Msg:    "Metadata objectname is not set",
}

// ConflictError reports that the submitted content is already stored under
// ResourceID.
type ConflictError struct {
	ResourceID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.ResourceID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StoreError wraps a backend failure other than not-found.
type StoreError struct {
	Op         string
	ResourceID string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func unsupported(kind ProtocolKind, msg string) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: msg}
}
