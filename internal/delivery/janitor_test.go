package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohits-web03/clientvault/internal/logging"
)

func TestJanitor_SweepsExpiredObjects(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.now = func() time.Time { return clock }
	store.seed("ephemeral/o/old.zip", []byte("x"))
	store.seed("jobs/o/old.zip", []byte("x"))
	store.seed("bundles/o/b.zip", []byte("x"))
	store.seed("owners/o/photo.jpg", []byte("x"))

	clock = clock.Add(11 * time.Minute)
	store.seed("ephemeral/o/new.zip", []byte("x"))

	j := NewJanitor(store, testConfig(), logging.Nop())
	j.now = func() time.Time { return clock }

	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ephemeral/o/old.zip"}, store.deleted)

	clock = clock.Add(24 * time.Hour)
	n, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"ephemeral/o/old.zip", "ephemeral/o/new.zip", "jobs/o/old.zip"}, store.deleted)

	ok, _ := store.Exists(context.Background(), "bundles/o/b.zip")
	assert.True(t, ok)
	ok, _ = store.Exists(context.Background(), "owners/o/photo.jpg")
	assert.True(t, ok)
}
