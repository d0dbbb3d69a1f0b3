package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/podbox/config"
)

// fakePodman stands in for the podman binary. It prints its arguments one per
// line on stdout and the sandbox environment on stderr, appends the argument
// list to $FAKE_PODMAN_LOG when set and exits 3 when any argument is "fail" or
// a path to fail.tar. The "sleep" argument turns it into a long sleep,
// "background" into a shell waiting on a sleeping child and "stubborn" into
// the same but ignoring SIGTERM.
const fakePodman = `#!/bin/sh
if [ -n "$FAKE_PODMAN_LOG" ]; then
	echo "$*" >> "$FAKE_PODMAN_LOG"
fi
printf '%s\n' "$@"
echo "registries=$CONTAINERS_REGISTRIES_CONF" >&2
echo "cni=$CNI_CONFIG_PATH" >&2
for arg in "$@"; do
	case "$arg" in
	fail|*/fail.tar) exit 3 ;;
	sleep) exec sleep 30 ;;
	background) sleep 30 & wait; exit 0 ;;
	stubborn) trap '' TERM; sleep 30 & wait; exit 0 ;;
	esac
done
exit 0
`

func writeFakePodman(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "podman")
	require.NoError(t, os.WriteFile(path, []byte(fakePodman), 0o755)) //nolint:gosec // test binary must be executable
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Podman: config.PodmanConfig{
			Binary:        writeFakePodman(t),
			StorageDriver: "vfs",
			CgroupManager: "cgroupfs",
			TempDir:       t.TempDir(),
		},
		Registries: config.RegistriesConfig{
			Search: []string{"quay.io", "docker.io"},
		},
		Cache: config.CacheConfig{
			Image:   config.DefaultCacheImage,
			Tarball: config.DefaultCacheTarball,
		},
	}
}

func newTestSandbox(t *testing.T, cfg *config.Config, opts ...Option) *Sandbox {
	t.Helper()
	sb, err := New(zaptest.NewLogger(t), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { sb.Teardown() })
	return sb
}
