//go:build !windows

package aspects

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleInstance_ReleaseUnlinksUnderLock(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	first, err := NewSingleInstance(id, dir)
	require.NoError(t, err)

	// A contender that opened the file before the holder let go.
	late, err := os.Open(first.Path())
	require.NoError(t, err)
	defer late.Close()

	require.NoError(t, first.Release())
	_, err = os.Stat(first.Path())
	assert.True(t, os.IsNotExist(err), "lock file still present after release")

	// Its lock lands on the unlinked file, which acquire treats as lost.
	require.NoError(t, lockFile(late))
	assert.False(t, linkedAt(late, first.Path()))

	second, err := NewSingleInstance(id, dir)
	require.NoError(t, err)
	defer second.Release()
	assert.False(t, second.IsAnother())
	assert.True(t, linkedAt(second.file, second.Path()))
}

func TestSingleInstance_ReleaseKeepsForeignFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSingleInstance(uuid.New(), dir)
	require.NoError(t, err)

	// Another writer replaced the token through the same inode.
	require.NoError(t, s.file.Truncate(0))
	_, err = s.file.WriteAt([]byte("1:someone-else"), 0)
	require.NoError(t, err)

	require.NoError(t, s.Release())
	_, err = os.Stat(s.Path())
	assert.NoError(t, err, "release removed a file it did not own")
}
