package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortexuri"
)

func mustParse(t *testing.T, s string) *cortexuri.URI {
	t.Helper()
	u, err := cortexuri.Parse(s)
	require.NoError(t, err)
	return u
}

func TestFilesystemInit(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	require.NoError(t, err)
	for _, d := range []string{"session", "user", "agent", "resources", "global"} {
		assert.DirExists(t, filepath.Join(fs.Root, d))
	}
}

func TestWriteAndRead(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	u := mustParse(t, "cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, fs.Write(u, "hello"))
	got, err := fs.Read(u)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestReadMissingIsNotFound(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	u := mustParse(t, "cortex://session/t1/timeline/missing.md")
	_, err = fs.Read(u)
	require.Error(t, err)
}

func TestListHiddenFilePolicy(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	dir := mustParse(t, "cortex://session/t1/timeline")
	require.NoError(t, fs.Write(dir.WithResource(AbstractFile), "abstract"))
	require.NoError(t, fs.Write(dir.WithResource(OverviewFile), "overview"))
	require.NoError(t, fs.Write(dir.WithResource(SessionFile), "{}"))
	require.NoError(t, fs.Write(dir.WithResource("regular.md"), "content"))

	names, err := fs.ListNames(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{AbstractFile, OverviewFile, "regular.md"}, names)
}

func TestDeleteDirectoryRemovesSubtree(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	u := mustParse(t, "cortex://session/t1/timeline/2026-02/13_msg.md")
	require.NoError(t, fs.Write(u, "hello"))
	dir := mustParse(t, "cortex://session/t1/timeline")
	require.NoError(t, fs.Delete(dir))
	exists, err := fs.Exists(dir)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExists(t *testing.T) {
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	u := mustParse(t, "cortex://user/u1/memories/m1.md")
	exists, err := fs.Exists(u)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, fs.Write(u, "x"))
	exists, err = fs.Exists(u)
	require.NoError(t, err)
	assert.True(t, exists)
}
