package images

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"go.uber.org/zap"

	"github.com/isdmx/podbox/config"
)

const userAgent = "podbox"

// RemoteClient pulls images straight from their registry and writes them in
// the tarball format understood by "podman load".
type RemoteClient struct {
	logger   *zap.Logger
	nameOpts []name.Option
	ropts    []remote.Option
}

// Option defines a functional option for RemoteClient
type Option func(*RemoteClient)

// WithInsecure allows plain HTTP and self-signed registries.
func WithInsecure() Option {
	return func(c *RemoteClient) {
		c.nameOpts = append(c.nameOpts, name.Insecure)
	}
}

// WithPlatform selects which manifest is pulled from a multi-platform index.
func WithPlatform(platform v1.Platform) Option {
	return func(c *RemoteClient) {
		c.ropts = append(c.ropts, remote.WithPlatform(platform))
	}
}

// WithRemoteOptions appends raw go-containerregistry remote options, e.g. a
// custom transport or keychain.
func WithRemoteOptions(opts ...remote.Option) Option {
	return func(c *RemoteClient) {
		c.ropts = append(c.ropts, opts...)
	}
}

// NewRemoteClient creates a RemoteClient authenticating with the default
// keychain (docker config, credential helpers).
func NewRemoteClient(logger *zap.Logger, opts ...Option) *RemoteClient {
	c := &RemoteClient{
		logger: logger,
		ropts: []remote.Option{
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
			remote.WithUserAgent(userAgent),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewRemoteClientFromConfig creates a RemoteClient that pulls cfg.Cache.Image
// for the configured platform. Registries listed as insecure in the
// configuration are reached over plain HTTP.
func NewRemoteClientFromConfig(logger *zap.Logger, cfg *config.Config) (*RemoteClient, error) {
	var opts []Option

	if cfg.Cache.Platform != "" {
		platform, err := v1.ParsePlatform(cfg.Cache.Platform)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.platform: %w", err)
		}
		opts = append(opts, WithPlatform(*platform))
	}

	ref, err := name.ParseReference(cfg.Cache.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid cache.image: %w", err)
	}
	for _, registry := range cfg.Registries.Insecure {
		if ref.Context().RegistryStr() == registry {
			opts = append(opts, WithInsecure())
			break
		}
	}

	return NewRemoteClient(logger, opts...), nil
}

// Save pulls ref and streams it to w as a docker-save tarball.
func (c *RemoteClient) Save(ctx context.Context, ref string, w io.Writer) error {
	parsed, err := name.ParseReference(ref, c.nameOpts...)
	if err != nil {
		return fmt.Errorf("failed to parse image reference %q: %w", ref, err)
	}

	c.logger.Info("pulling image", zap.String("image", parsed.Name()))

	img, err := remote.Image(parsed, append(slices.Clone(c.ropts), remote.WithContext(ctx))...)
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", parsed.Name(), err)
	}

	digest, err := img.Digest()
	if err != nil {
		return fmt.Errorf("failed to read digest of %s: %w", parsed.Name(), err)
	}

	if err := tarball.Write(parsed, img, w); err != nil {
		return fmt.Errorf("failed to write tarball for %s: %w", parsed.Name(), err)
	}

	c.logger.Info("image saved",
		zap.String("image", parsed.Name()),
		zap.String("digest", digest.String()))

	return nil
}
