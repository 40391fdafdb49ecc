package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := New(CodeToolNotPermitted, "tools.invoke", "tool %s denied", "terminal")
	wrapped := fmt.Errorf("turn failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrToolNotPermitted))
	assert.False(t, errors.Is(wrapped, ErrAgentNotFound))
	assert.Equal(t, CodeToolNotPermitted, CodeOf(wrapped))
	assert.Equal(t, "tools.invoke: tool_not_permitted: tool terminal denied", err.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(CodeTimeout, "op", nil))

	cause := errors.New("boom")
	err := Wrap(CodeToolExecutionFailed, "tools.invoke", cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrToolExecutionFailed)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"cancel", fmt.Errorf("call: %w", context.Canceled), CodeCancelled},
		{"typed kept", New(CodeSessionBusy, "", ""), CodeSessionBusy},
		{"other", errors.New("x"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(FromContext("op", tt.err)))
		})
	}
	assert.Nil(t, FromContext("op", nil))
}

func TestUserMessage(t *testing.T) {
	msg := UserMessage(New(CodeAgentNotFound, "", "").WithDetail("agent_id", "ghost"))
	assert.Contains(t, msg, `"ghost"`)
	assert.Contains(t, UserMessage(New(CodeAgentNotFound, "", "").WithDetail("agent_id", "ghost").WithDetail("inactive", "true")), "deactivated")

	assert.Contains(t, UserMessage(ErrProviderUnavailable), "technical difficulties")
	assert.NotContains(t, UserMessage(errors.New("panic: nil map")), "panic")
	assert.Empty(t, UserMessage(nil))
}
