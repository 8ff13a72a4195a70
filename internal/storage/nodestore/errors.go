package nodestore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested node was not found
	ErrNotFound = errors.New("node not found")

	// ErrDataCorrupt indicates that stored data is corrupted
	ErrDataCorrupt = errors.New("data corruption detected")

	// ErrClosed indicates that the store is closed
	ErrClosed = errors.New("node store is closed")

	// ErrInvalidConfig indicates that the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedBackend indicates that a backend is not supported
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// NodeStoreError adds the failing operation and node to an error.
type NodeStoreError struct {
	Operation string
	Type      NodeType
	Hash      Hash
	Cause     error
}

func (e *NodeStoreError) Error() string {
	return fmt.Sprintf("nodestore %s %s %s: %v", e.Operation, e.Type, e.Hash, e.Cause)
}

func (e *NodeStoreError) Unwrap() error {
	return e.Cause
}

func wrapError(op string, t NodeType, h Hash, err error) error {
	if err == nil {
		return nil
	}
	return &NodeStoreError{Operation: op, Type: t, Hash: h, Cause: err}
}
