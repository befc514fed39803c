package errors

import (
	"fmt"
	"strings"
)

// DecodeError reports a payload that could not be decoded. Path locates the
// offending value inside the payload ("" for the root, "image.data" for a
// nested key).
type DecodeError struct {
	MessageName string
	Path        string
	Err         error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode")
	if e.MessageName != "" {
		fmt.Fprintf(&b, " message %q", e.MessageName)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorClass implements classification; malformed payloads are never retried.
func (e *DecodeError) ErrorClass() ErrorClass { return ErrorInvalid }

// EncodeError reports a value that could not be encoded.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("encode: %v", e.Err)
	}
	return fmt.Sprintf("encode at %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ErrorClass implements classification.
func (e *EncodeError) ErrorClass() ErrorClass { return ErrorInvalid }

// LifecycleError reports start/stop misuse on a node.
type LifecycleError struct {
	Node  string
	State string
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("node %q (%s): %v", e.Node, e.State, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// ErrorClass implements classification.
func (e *LifecycleError) ErrorClass() ErrorClass { return ErrorInvalid }

// ReceiveError reports a receiver that failed while a message was being
// propagated along the edge Sender -> Receiver.
type ReceiveError struct {
	Sender      string
	Receiver    string
	MessageName string
	Err         error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive %q on edge %q -> %q: %v", e.MessageName, e.Sender, e.Receiver, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// ErrorClass reports the class of the receiver's own error.
func (e *ReceiveError) ErrorClass() ErrorClass { return Classify(e.Err) }
