// Package workflow provides a stateful workflow graph execution engine:
// a directed flow of nodes over a shared state snapshot, with data-driven
// routing, per-node retry, run-level deadlines, and structured errors.
package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates a route references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeNotRouted indicates a node has no routing rules.
	ErrNodeNotRouted = errors.New("node has no route")

	// ErrRouteNotTotal indicates a route has no Otherwise decision, so some
	// state combination would be unmatched at runtime.
	ErrRouteNotTotal = errors.New("route has no otherwise decision")

	// ErrNoPathToDone indicates no route can reach a done decision.
	ErrNoPathToDone = errors.New("no path to done from entry")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Start() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrMaxSteps indicates the execution loop exceeded the configured
	// step limit. The router counters are the primary loop bound; this is
	// the engine's last-resort guard.
	ErrMaxSteps = errors.New("exceeded maximum steps")

	// ErrUnknownNext indicates a node hinted at a next node that does not
	// exist in the compiled graph.
	ErrUnknownNext = errors.New("unknown next node")
)

// Kind classifies an execution error. The kind of the original failure is
// preserved all the way to the terminal run result; the engine never
// downgrades or swallows it.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota

	// KindValidation is a malformed inbound request or parameter set,
	// rejected before any external call.
	KindValidation

	// KindCapabilityTimeout is a capability call that exceeded its deadline.
	KindCapabilityTimeout

	// KindCapability is a remote service failure.
	KindCapability

	// KindStructuredDecode is model output that did not match the
	// requested schema.
	KindStructuredDecode

	// KindRoutingExhausted is a bounded-retry counter hitting its cap.
	KindRoutingExhausted

	// KindRunTimeout is the run-level deadline being exceeded.
	KindRunTimeout

	// KindFatalNode is a node-declared unrecoverable condition.
	KindFatalNode
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapabilityTimeout:
		return "capability_timeout"
	case KindCapability:
		return "capability"
	case KindStructuredDecode:
		return "structured_decode"
	case KindRoutingExhausted:
		return "routing_exhausted"
	case KindRunTimeout:
		return "run_timeout"
	case KindFatalNode:
		return "fatal_node"
	default:
		return "unknown"
	}
}

// Error is a classified execution error with node context.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Node is the node that produced the error, if any.
	Node string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: node %s: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of an error.
// Already-classified errors keep their kind through any wrapping.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// withNode returns the error tagged with a node name, classifying
// unclassified errors as fatal node errors. An existing kind is preserved.
func withNode(node string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Node == "" {
			return &Error{Kind: e.Kind, Node: node, Err: e.Err}
		}
		return e
	}
	return &Error{Kind: KindFatalNode, Node: node, Err: err}
}

// PanicError captures panic information from node execution.
type PanicError struct {
	// Node is the node that panicked.
	Node string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Node, e.Value)
}

// UserMessage returns a human-readable message for a failed run, distinct
// per failure class so callers can surface it directly to the chat user.
// A successful empty-result run never goes through here; its message is
// produced by the flow's formatter.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "요청을 이해하지 못했습니다. 다시 입력해 주세요."
	case KindRunTimeout, KindCapabilityTimeout:
		return "응답 시간이 초과되었습니다. 잠시 후 다시 시도해 주세요."
	case KindRoutingExhausted:
		return "요청을 처리할 수 없습니다. 조건을 바꿔 다시 시도해 주세요."
	default:
		return "죄송합니다. 일시적인 오류로 요청을 처리하지 못했습니다."
	}
}
