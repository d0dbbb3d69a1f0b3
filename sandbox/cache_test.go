package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeImageClient writes a fixed payload for every Save call.
type fakeImageClient struct {
	payload string
	err     error
	refs    []string
}

func (c *fakeImageClient) Save(_ context.Context, ref string, w io.Writer) error {
	c.refs = append(c.refs, ref)
	if _, err := io.WriteString(w, c.payload); err != nil {
		return err
	}
	return c.err
}

func listCache(t *testing.T, sb *Sandbox) []string {
	t.Helper()
	entries, err := os.ReadDir(sb.Layout().ImageCache)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestRestoreImageFromCache(t *testing.T) {
	ctx := context.Background()

	t.Run("PopulateThenLoad", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "invocations.log")
		t.Setenv("FAKE_PODMAN_LOG", logPath)

		cfg := testConfig(t)
		sb := newTestSandbox(t, cfg)
		client := &fakeImageClient{payload: "image tarball"}

		status, err := sb.RestoreImageFromCache(ctx, client)
		require.NoError(t, err)
		assert.Equal(t, CachePopulated, status)
		assert.Equal(t, []string{cfg.Cache.Image}, client.refs)
		assert.Equal(t, []string{"alpine.tar"}, listCache(t, sb))

		data, err := os.ReadFile(sb.CachedImagePath())
		require.NoError(t, err)
		assert.Equal(t, "image tarball", string(data))

		_, err = os.Stat(logPath)
		assert.True(t, os.IsNotExist(err), "populating must not invoke podman")

		status, err = sb.RestoreImageFromCache(ctx, client)
		require.NoError(t, err)
		assert.Equal(t, CacheLoaded, status)
		assert.Len(t, client.refs, 1, "cache hit must not pull again")

		log, err := os.ReadFile(logPath)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(log)), "\n")
		require.Len(t, lines, 1)
		assert.True(t, strings.HasSuffix(lines[0], "load -i "+sb.CachedImagePath()), lines[0])
	})

	t.Run("FailedPullLeavesNoTarball", func(t *testing.T) {
		sb := newTestSandbox(t, testConfig(t))
		client := &fakeImageClient{payload: "partial", err: errors.New("connection reset")}

		_, err := sb.RestoreImageFromCache(ctx, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Empty(t, listCache(t, sb))
	})

	t.Run("LoadFailure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Cache.Tarball = "fail.tar"
		sb := newTestSandbox(t, cfg)
		require.NoError(t, os.WriteFile(sb.CachedImagePath(), []byte("corrupt"), 0o600))

		_, err := sb.RestoreImageFromCache(ctx, &fakeImageClient{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCommandFailed)
	})
}

func TestFlushImageCache(t *testing.T) {
	t.Run("RemovesOnlyTarballs", func(t *testing.T) {
		sb := newTestSandbox(t, testConfig(t))
		cache := sb.Layout().ImageCache

		for _, name := range []string{"alpine.tar", "busybox.tar", "notes.txt"} {
			require.NoError(t, os.WriteFile(filepath.Join(cache, name), []byte(name), 0o600))
		}
		require.NoError(t, os.MkdirAll(filepath.Join(cache, "nested.tar"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cache, "nested.tar", "inner.tar"), []byte("x"), 0o600))

		outcomes := sb.FlushImageCache()
		require.Len(t, outcomes, 2)
		for _, outcome := range outcomes {
			assert.Equal(t, Removed, outcome.Status, outcome.Path)
			assert.Equal(t, ".tar", filepath.Ext(outcome.Path))
		}

		assert.ElementsMatch(t, []string{"notes.txt", "nested.tar"}, listCache(t, sb))
		_, err := os.Stat(filepath.Join(cache, "nested.tar", "inner.tar"))
		require.NoError(t, err)
	})

	t.Run("AfterRestore", func(t *testing.T) {
		sb := newTestSandbox(t, testConfig(t))

		_, err := sb.RestoreImageFromCache(context.Background(), &fakeImageClient{payload: "tar"})
		require.NoError(t, err)
		require.Len(t, listCache(t, sb), 1)

		outcomes := sb.FlushImageCache()
		require.Len(t, outcomes, 1)
		assert.Equal(t, Removed, outcomes[0].Status)

		assert.Empty(t, listCache(t, sb))
		info, err := os.Stat(sb.Layout().ImageCache)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		assert.Empty(t, sb.FlushImageCache())
	})

	t.Run("MissingCacheDirectory", func(t *testing.T) {
		sb := newTestSandbox(t, testConfig(t))
		require.NoError(t, os.RemoveAll(sb.Layout().ImageCache))

		assert.Empty(t, sb.FlushImageCache())
	})
}
