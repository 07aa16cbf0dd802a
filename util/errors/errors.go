// Package errors classifies the ways a metrics stream can end.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies the transport operation that failed.
type Kind int

const (
	// TransportRead: the peer closed the stream or the network failed while
	// waiting for the next record. Ends the session normally.
	TransportRead Kind = iota
	// TransportWrite: an acknowledgment could not be sent. Ends the session
	// with an Internal status.
	TransportWrite
)

func (k Kind) String() string {
	switch k {
	case TransportRead:
		return "read"
	case TransportWrite:
		return "write"
	default:
		return "unknown"
	}
}

// SessionError is the reason a stream session terminated.
type SessionError struct {
	Kind   Kind
	NodeID string
	Err    error
}

func (e *SessionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("transport %s failed for node %s: %v", e.Kind, e.NodeID, e.Err)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// GRPCStatus lets the gRPC server turn a returned SessionError into a status.
func (e *SessionError) GRPCStatus() *status.Status {
	if e.Kind == TransportWrite {
		return status.New(codes.Internal, "Failed to send ack")
	}
	if s, ok := status.FromError(e.Err); ok {
		return s
	}
	return status.New(codes.Unknown, e.Error())
}

func NewReadError(nodeID string, err error) *SessionError {
	return &SessionError{Kind: TransportRead, NodeID: nodeID, Err: err}
}

func NewWriteError(nodeID string, err error) *SessionError {
	return &SessionError{Kind: TransportWrite, NodeID: nodeID, Err: err}
}

// IsTransportWrite reports whether err is an acknowledgment write failure.
func IsTransportWrite(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Kind == TransportWrite
}

// IsCleanClose reports whether a read error means the peer finished the
// stream on purpose: io.EOF, or a cancelled call.
func IsCleanClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Canceled {
		return true
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry, either from a context
// or from a gRPC DeadlineExceeded status.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.DeadlineExceeded
	}
	return false
}
