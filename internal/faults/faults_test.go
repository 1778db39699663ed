package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := errors.New("connection refused")
	f := Wrap(KindDependencyUnavailable, base, "qdrant unreachable")
	wrapped := fmt.Errorf("retrieve: %w", f)

	assert.Equal(t, KindDependencyUnavailable, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindDependencyUnavailable))
	assert.True(t, errors.Is(wrapped, base))
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindOverloaded.Retryable())
	assert.True(t, KindNotReady.Retryable())
	assert.False(t, KindInvalidInput.Retryable())
	assert.False(t, KindDeadlineExceeded.Retryable())
}

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	f := Wrap(KindDocumentNotFound, errors.New("no rows"), "document %s", "doc-1")
	assert.Contains(t, f.Error(), "document_not_found")
	assert.Contains(t, f.Error(), "doc-1")
	assert.Contains(t, f.Error(), "no rows")
}
