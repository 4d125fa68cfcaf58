package coordinator

import (
	"testing"

	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a", "/a"},
		{"/a/", "/a"},
		{"//a///b//", "/a/b"},
		{`\a\b`, "/a/b"},
		{"a/b/c", "/a/b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizePath(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizePath(got), "normalization must be idempotent")
		})
	}
}

func TestParentAndBaseName(t *testing.T) {
	assert.Equal(t, "", getParentPath("/"))
	assert.Equal(t, "/", getParentPath("/a"))
	assert.Equal(t, "/a", getParentPath("/a/b"))
	assert.Equal(t, "b", getBaseName("/a/b"))
	assert.Equal(t, "/", getBaseName("/"))
}

func TestCreateDirectory(t *testing.T) {
	h := newHarness(t, nil)

	entry, err := h.coord.CreateDirectory("projects/", "alice")
	require.NoError(t, err)
	assert.Equal(t, "/projects", entry.Path)
	assert.Equal(t, "projects", entry.Name)
	assert.True(t, entry.IsDir)

	t.Run("duplicate", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/projects", "alice")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/nope/child", "alice")
		assert.ErrorIs(t, err, ErrParentMissing)
	})

	t.Run("dot names", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/projects/..", "alice")
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("root", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/", "alice")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestCreateFile(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	t.Run("zero size completes immediately", func(t *testing.T) {
		layout, err := h.coord.CreateFile("/empty", "alice", 0)
		require.NoError(t, err)
		assert.Empty(t, layout.Blocks)
		assert.Equal(t, types.FileCompleted, layout.File.State)
	})

	t.Run("negative size", func(t *testing.T) {
		_, err := h.coord.CreateFile("/neg", "alice", -1)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("name taken by directory", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/dir", "alice")
		require.NoError(t, err)
		_, err = h.coord.CreateFile("/dir", "alice", 10)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := h.coord.CreateFile("/missing/file", "alice", 10)
		assert.ErrorIs(t, err, ErrParentMissing)
	})

	t.Run("placement failure leaves nothing behind", func(t *testing.T) {
		cfg := testConfig()
		cfg.ReplicationFactor = 3
		h := newHarness(t, cfg)
		h.addWorkers(t, 2, 10*utils.GiB)

		_, err := h.coord.CreateFile("/big", "alice", 100*utils.MiB)
		assert.ErrorIs(t, err, ErrInsufficientWorkers)

		_, err = h.coord.Stat("/big")
		assert.ErrorIs(t, err, ErrNotFound)
		stats := h.coord.Stats()
		assert.Equal(t, 0, stats.Blocks)
		assert.Equal(t, int64(0), stats.UsedBytes)
	})
}

func TestDeleteFile(t *testing.T) {
	h := newHarness(t, nil)
	workers := h.addWorkers(t, 2, 10*utils.GiB)

	layout, err := h.coord.CreateFile("/f", "alice", 10*utils.MiB)
	require.NoError(t, err)

	t.Run("other user denied", func(t *testing.T) {
		err := h.coord.DeleteFile("/f", "bob")
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("directory rejected", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/d", "alice")
		require.NoError(t, err)
		assert.ErrorIs(t, h.coord.DeleteFile("/d", "alice"), ErrInvalidOperation)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, h.coord.DeleteFile("/ghost", "alice"), ErrNotFound)
	})

	t.Run("admin may delete", func(t *testing.T) {
		require.NoError(t, h.coord.DeleteFile("/f", "admin"))
		for range workers {
			<-h.deleter.calls
		}
		for _, w := range workers {
			assert.Equal(t, []types.BlockID{layout.Blocks[0].ID}, h.deleter.Purged(w))
		}
		for _, w := range workers {
			worker, err := h.coord.Worker(w)
			require.NoError(t, err)
			assert.Empty(t, worker.Blocks)
			assert.Equal(t, int64(0), worker.UsedBytes)
		}
	})
}

func TestDeleteDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	_, err := h.coord.CreateDirectory("/a", "alice")
	require.NoError(t, err)
	_, err = h.coord.CreateDirectory("/a/b", "alice")
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/a/b/one", "alice", 100*utils.MiB)
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/a/two", "alice", 1*utils.MiB)
	require.NoError(t, err)

	t.Run("root", func(t *testing.T) {
		assert.ErrorIs(t, h.coord.DeleteDirectory("/", "admin", true), ErrInvalidOperation)
	})

	t.Run("not empty", func(t *testing.T) {
		assert.ErrorIs(t, h.coord.DeleteDirectory("/a", "alice", false), ErrNotEmpty)
	})

	t.Run("permission checked before anything is removed", func(t *testing.T) {
		_, err := h.coord.CreateFile("/a/b/bobs", "bob", 0)
		require.NoError(t, err)

		assert.ErrorIs(t, h.coord.DeleteDirectory("/a", "alice", true), ErrPermissionDenied)
		_, err = h.coord.Stat("/a/b/one")
		assert.NoError(t, err)
		assert.Equal(t, 3, h.coord.Stats().Blocks)

		require.NoError(t, h.coord.DeleteFile("/a/b/bobs", "bob"))
	})

	t.Run("recursive cascades to blocks", func(t *testing.T) {
		require.NoError(t, h.coord.DeleteDirectory("/a", "alice", true))

		for _, p := range []string{"/a", "/a/b", "/a/b/one", "/a/two"} {
			_, err := h.coord.Stat(p)
			assert.ErrorIs(t, err, ErrNotFound, p)
		}
		stats := h.coord.Stats()
		assert.Equal(t, 0, stats.Blocks)
		assert.Equal(t, 0, stats.Files)
		assert.Equal(t, 1, stats.Directories)
		assert.Equal(t, int64(0), stats.UsedBytes)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := h.coord.CreateDirectory("/e", "alice")
		require.NoError(t, err)
		require.NoError(t, h.coord.DeleteDirectory("/e", "alice", false))
	})
}

func TestMoveFile(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	_, err := h.coord.CreateDirectory("/dst", "alice")
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/src", "alice", 1*utils.MiB)
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/taken", "alice", 0)
	require.NoError(t, err)

	tests := []struct {
		name      string
		src, dst  string
		requester string
		wantErr   error
	}{
		{"missing source", "/nope", "/x", "alice", ErrNotFound},
		{"wrong owner", "/src", "/x", "bob", ErrPermissionDenied},
		{"destination exists", "/src", "/taken", "alice", ErrAlreadyExists},
		{"destination parent missing", "/src", "/none/x", "alice", ErrParentMissing},
		{"same path", "/src", "/src", "alice", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.coord.MoveFile(tt.src, tt.dst, tt.requester)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	require.NoError(t, h.coord.MoveFile("/src", "/dst/moved", "alice"))

	entries, err := h.coord.ListDirectory("/dst", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "moved", entries[0].Name)

	_, err = h.coord.Stat("/src")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	_, err := h.coord.CreateDirectory("/zeta", "bob")
	require.NoError(t, err)
	_, err = h.coord.CreateDirectory("/alpha", "alice")
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/b.txt", "alice", 0)
	require.NoError(t, err)
	_, err = h.coord.CreateFile("/a.txt", "bob", 0)
	require.NoError(t, err)

	entries, err := h.coord.ListDirectory("/", "")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta", "a.txt", "b.txt"}, names)

	t.Run("owner filter", func(t *testing.T) {
		entries, err := h.coord.ListDirectory("/", "alice")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "alpha", entries[0].Name)
		assert.Equal(t, "b.txt", entries[1].Name)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		entries, err := h.coord.ListDirectory("/", "admin")
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("file is not a directory", func(t *testing.T) {
		_, err := h.coord.ListDirectory("/a.txt", "")
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := h.coord.ListDirectory("/missing", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSearchFiles(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	_, err := h.coord.CreateDirectory("/docs", "alice")
	require.NoError(t, err)
	for _, p := range []string{"/docs/z", "/a", "/docs/b"} {
		_, err := h.coord.CreateFile(p, "alice", 0)
		require.NoError(t, err)
	}
	_, err = h.coord.CreateFile("/other", "bob", 0)
	require.NoError(t, err)

	files := h.coord.SearchFiles("alice")
	require.Len(t, files, 3)
	assert.Equal(t, "/a", files[0].Path)
	assert.Equal(t, "/docs/b", files[1].Path)
	assert.Equal(t, "/docs/z", files[2].Path)

	assert.Empty(t, h.coord.SearchFiles("carol"))
}
