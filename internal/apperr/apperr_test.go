package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := Wrap(KindNotFound, "store.get", errors.New("NoSuchKey"))
	wrapped := fmt.Errorf("building bundle: %w", err)

	assert.True(t, errors.Is(wrapped, NotFound))
	assert.False(t, errors.Is(wrapped, Timeout))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, "op", nil))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("get: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "bundle is gone", MessageOf(New(KindExpired, "bundle.get", "bundle is gone")))
	assert.Equal(t, "Resource not found", MessageOf(Wrap(KindNotFound, "x", errors.New("raw s3 text"))))
	assert.Equal(t, "Internal error", MessageOf(errors.New("pq: connection refused")))
}

func TestError_ErrorString(t *testing.T) {
	err := Wrapf(KindTimeout, "store.get", context.DeadlineExceeded, "fetch of %s timed out", "a.jpg")
	require.Error(t, err)
	assert.Equal(t, "store.get: fetch of a.jpg timed out: context deadline exceeded", err.Error())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
