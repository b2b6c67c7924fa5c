package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("TermIndex.Initialize", ErrKnowledgeSource, "terms.txt")
	want := "TermIndex.Initialize: terms.txt: knowledge source unavailable"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Specialist.Invoke", ErrMaxIterations, "")
	want := "Specialist.Invoke: specialist reached max iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("PassageIndex.Initialize", ErrKnowledgeSource, "guidelines.md")
	if !errors.Is(err, ErrKnowledgeSource) {
		t.Error("errors.Is should match ErrKnowledgeSource")
	}
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "PassageIndex.Initialize" {
		t.Errorf("Op = %q", de.Op)
	}
}

func TestErrorCodeOf(t *testing.T) {
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(ErrToolNotFound))
	assert.Equal(t, CodeKnowledgeSource, ErrorCodeOf(NewDomainError("op", ErrKnowledgeSource, "x")))
	assert.Equal(t, CodeEmbeddingFailed, ErrorCodeOf(fmt.Errorf("%w: timeout", ErrEmbeddingFailed)))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	assert.Equal(t, CodeSpecialistDuplicate, ErrorCodeOf(NewSubSystemError("roster", "Roster.Add", ErrDuplicate, "X")))
	assert.Equal(t, CodeSessionInvalidID, ErrorCodeOf(NewSubSystemError("session", "Registry.Get", ErrInvalidInput, "../x")))
	// Unknown subsystem falls back to the category code.
	assert.Equal(t, CodeNotFound, ErrorCodeOf(NewSubSystemError("elsewhere", "Op", ErrNotFound, "")))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestGatewayAuthWrapsAuthInvalid(t *testing.T) {
	assert.True(t, errors.Is(ErrGatewayAuthFailed, ErrAuthInvalid))
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(ErrGatewayAuthFailed))
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	err := WrapOp("outer", WrapOp("inner", ErrToolFailure))
	assert.Equal(t, "outer: inner: tool execution failed", err.Error())
	assert.True(t, errors.Is(err, ErrToolFailure))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("%w: 429", ErrRateLimit)))
	assert.True(t, IsRetryableError(fmt.Errorf("%w: 503", ErrToolFailure)))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
