//go:build unix

package filestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// holdLock takes the store lock from a separate descriptor, as another
// process would, until the test ends.
func holdLock(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX))
	t.Cleanup(func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	})
}

func TestSave_GivesUpWhenLockHeldPastDeadline(t *testing.T) {
	p, path := newPersister(t)
	holdLock(t, path)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Save(ctx, []domain.TokenMetadata{record("secret-a", "alice")})

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, apperrors.ErrStoreIO))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing may be written without the lock")
}

func TestSave_ProceedsOnceLockReleased(t *testing.T) {
	p, path := newPersister(t)
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}()

	_, err = p.Save(context.Background(), []domain.TokenMetadata{record("secret-a", "alice")})
	require.NoError(t, err)

	records, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
