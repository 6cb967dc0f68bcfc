package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindValidation, "validation"},
		{KindCapabilityTimeout, "capability_timeout"},
		{KindCapability, "capability"},
		{KindStructuredDecode, "structured_decode"},
		{KindRoutingExhausted, "routing_exhausted"},
		{KindRunTimeout, "run_timeout"},
		{KindFatalNode, "fatal_node"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	base := NewError(KindStructuredDecode, errors.New("bad json"))
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", base))

	assert.Equal(t, KindStructuredDecode, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWithNodePreservesKind(t *testing.T) {
	classified := NewError(KindCapabilityTimeout, errors.New("slow"))
	tagged := withNode("search", classified)

	assert.Equal(t, KindCapabilityTimeout, tagged.Kind)
	assert.Equal(t, "search", tagged.Node)

	// An already-tagged error keeps its original node.
	retagged := withNode("other", tagged)
	assert.Equal(t, "search", retagged.Node)

	// Unclassified errors become fatal node errors.
	plain := withNode("search", errors.New("oops"))
	assert.Equal(t, KindFatalNode, plain.Kind)
}

func TestErrorFormatting(t *testing.T) {
	withN := &Error{Kind: KindCapability, Node: "search", Err: errors.New("down")}
	assert.Equal(t, "capability: node search: down", withN.Error())

	withoutN := &Error{Kind: KindValidation, Err: errors.New("empty")}
	assert.Equal(t, "validation: empty", withoutN.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(KindCapability, fmt.Errorf("wrapped: %w", cause))

	assert.ErrorIs(t, err, cause)

	var target *Error
	require.ErrorAs(t, error(err), &target)
	assert.Equal(t, KindCapability, target.Kind)
}

func TestUserMessageDistinctPerKind(t *testing.T) {
	messages := map[Kind]string{
		KindValidation:        UserMessage(NewError(KindValidation, errors.New("x"))),
		KindRunTimeout:        UserMessage(NewError(KindRunTimeout, errors.New("x"))),
		KindRoutingExhausted:  UserMessage(NewError(KindRoutingExhausted, errors.New("x"))),
		KindStructuredDecode:  UserMessage(NewError(KindStructuredDecode, errors.New("x"))),
		KindCapabilityTimeout: UserMessage(NewError(KindCapabilityTimeout, errors.New("x"))),
	}

	for kind, msg := range messages {
		assert.NotEmpty(t, msg, "kind %s", kind)
	}

	// Timeouts share one message; the other classes each read differently.
	assert.Equal(t, messages[KindRunTimeout], messages[KindCapabilityTimeout])
	assert.NotEqual(t, messages[KindValidation], messages[KindRunTimeout])
	assert.NotEqual(t, messages[KindValidation], messages[KindRoutingExhausted])
	assert.NotEqual(t, messages[KindRoutingExhausted], messages[KindStructuredDecode])
}
