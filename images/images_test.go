package images

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/podbox/config"
)

// pushRandomImage starts an in-memory registry and pushes a random image to
// it, returning the reference string and the pushed image.
func pushRandomImage(t *testing.T, repo string) (string, v1.Image) {
	t.Helper()

	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)

	ref := strings.TrimPrefix(srv.URL, "http://") + "/" + repo + ":latest"
	tag, err := name.NewTag(ref)
	require.NoError(t, err)

	img, err := random.Image(512, 2)
	require.NoError(t, err)
	require.NoError(t, remote.Write(tag, img))

	return ref, img
}

// countingTransport counts the requests it forwards.
type countingTransport struct {
	requests atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.requests.Add(1)
	return http.DefaultTransport.RoundTrip(req)
}

func TestRemoteClientSave(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesLoadableTarball", func(t *testing.T) {
		ref, pushed := pushRandomImage(t, "libpod/alpine")
		client := NewRemoteClient(zaptest.NewLogger(t), WithInsecure())

		var buf bytes.Buffer
		require.NoError(t, client.Save(ctx, ref, &buf))
		require.NotZero(t, buf.Len())

		tag, err := name.NewTag(ref)
		require.NoError(t, err)
		data := buf.Bytes()
		loaded, err := tarball.Image(func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}, &tag)
		require.NoError(t, err)

		wantConfig, err := pushed.ConfigName()
		require.NoError(t, err)
		gotConfig, err := loaded.ConfigName()
		require.NoError(t, err)
		assert.Equal(t, wantConfig, gotConfig)

		layers, err := loaded.Layers()
		require.NoError(t, err)
		assert.Len(t, layers, 2)
	})

	t.Run("CustomTransport", func(t *testing.T) {
		ref, _ := pushRandomImage(t, "libpod/alpine")
		transport := &countingTransport{}
		client := NewRemoteClient(zaptest.NewLogger(t),
			WithInsecure(),
			WithRemoteOptions(remote.WithTransport(transport)))

		require.NoError(t, client.Save(ctx, ref, io.Discard))
		assert.Positive(t, transport.requests.Load())
	})

	t.Run("InvalidReference", func(t *testing.T) {
		client := NewRemoteClient(zaptest.NewLogger(t))

		err := client.Save(ctx, "UPPER/case:tag", io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse image reference")
	})

	t.Run("MissingImage", func(t *testing.T) {
		ref, _ := pushRandomImage(t, "libpod/alpine")
		client := NewRemoteClient(zaptest.NewLogger(t), WithInsecure())

		err := client.Save(ctx, strings.Replace(ref, "alpine", "busybox", 1), io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to pull")
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ref, _ := pushRandomImage(t, "libpod/alpine")
		client := NewRemoteClient(zaptest.NewLogger(t), WithInsecure())

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		err := client.Save(canceled, ref, io.Discard)
		require.Error(t, err)
	})
}

func TestNewRemoteClientFromConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Defaults", func(t *testing.T) {
		client, err := NewRemoteClientFromConfig(logger, &config.Config{
			Cache: config.CacheConfig{Image: config.DefaultCacheImage},
		})
		require.NoError(t, err)
		assert.Empty(t, client.nameOpts)
		assert.Len(t, client.ropts, 2)
	})

	t.Run("PlatformAndInsecureRegistry", func(t *testing.T) {
		client, err := NewRemoteClientFromConfig(logger, &config.Config{
			Registries: config.RegistriesConfig{Insecure: []string{"localhost:5000"}},
			Cache: config.CacheConfig{
				Image:    "localhost:5000/libpod/alpine:latest",
				Platform: "linux/arm64",
			},
		})
		require.NoError(t, err)
		assert.Len(t, client.nameOpts, 1)
		assert.Len(t, client.ropts, 3)
	})

	t.Run("InvalidPlatform", func(t *testing.T) {
		_, err := NewRemoteClientFromConfig(logger, &config.Config{
			Cache: config.CacheConfig{Image: config.DefaultCacheImage, Platform: "linux/arm64/v8/extra"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cache.platform")
	})

	t.Run("InvalidImage", func(t *testing.T) {
		_, err := NewRemoteClientFromConfig(logger, &config.Config{
			Cache: config.CacheConfig{Image: "UPPER/case"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cache.image")
	})
}
