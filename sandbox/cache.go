package sandbox

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// CachedImagePath is where the cached image tarball lives.
func (s *Sandbox) CachedImagePath() string {
	return filepath.Join(s.layout.ImageCache, s.cache.Tarball)
}

// RestoreImageFromCache makes the well-known cache image available. When the
// tarball is missing it is pulled through client and saved into the cache.
// When it is present it is loaded into the sandbox storage with
// "podman load -i".
func (s *Sandbox) RestoreImageFromCache(ctx context.Context, client ImageClient) (CacheStatus, error) {
	path := s.CachedImagePath()

	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", fmt.Errorf("failed to stat cached image: %w", err)
	}

	if !exists {
		if err := s.populateCache(ctx, client, path); err != nil {
			return "", err
		}
		s.logger.Info("image cache populated",
			zap.String("image", s.cache.Image),
			zap.String("path", path))
		return CachePopulated, nil
	}

	if _, err := s.Run(ctx, RunOptions{CheckExitCode: true}, "load", "-i", path); err != nil {
		return "", fmt.Errorf("failed to load cached image: %w", err)
	}
	s.logger.Info("image loaded from cache", zap.String("path", path))

	return CacheLoaded, nil
}

// populateCache writes to a temporary file first so an interrupted pull never
// leaves a tarball that a later call would treat as a cache hit.
func (s *Sandbox) populateCache(ctx context.Context, client ImageClient, path string) error {
	tmp, err := afero.TempFile(s.fs, s.layout.ImageCache, "."+s.cache.Tarball+".*.partial")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}

	saveErr := client.Save(ctx, s.cache.Image, tmp)
	closeErr := tmp.Close()
	if saveErr == nil {
		saveErr = closeErr
	}
	if saveErr != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to save %s: %w", s.cache.Image, saveErr)
	}

	if err := s.fs.Rename(tmp.Name(), path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to store cached image: %w", err)
	}

	return nil
}

// FlushImageCache removes every *.tar file directly inside the image cache.
// Subdirectories and other files are left alone, as is the cache directory.
func (s *Sandbox) FlushImageCache() []RemovalOutcome {
	entries, err := afero.ReadDir(s.fs, s.layout.ImageCache)
	if err != nil {
		s.logger.Warn("failed to list image cache",
			zap.String("path", s.layout.ImageCache),
			zap.Error(err))
		return nil
	}

	outcomes := make([]RemovalOutcome, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, _ := filepath.Match("*.tar", entry.Name()); !matched {
			continue
		}

		outcome := removePath(s.fs, filepath.Join(s.layout.ImageCache, entry.Name()), s.fs.Remove)
		if outcome.Status == Failed {
			s.logger.Warn("failed to remove cached image",
				zap.String("path", outcome.Path),
				zap.Error(outcome.Err))
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}
