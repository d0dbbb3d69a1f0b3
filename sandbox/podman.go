package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/isdmx/podbox/config"
)

// Environment variables podman reads for the registries and CNI configuration.
// They are set on child processes only.
const (
	EnvRegistriesConf = "CONTAINERS_REGISTRIES_CONF"
	EnvCNIConfigPath  = "CNI_CONFIG_PATH"
)

const (
	anchorPrefix       = "podman_docker_"
	cacheDirName       = "cache"
	rootDirName        = "crio"
	runRootDirName     = "crio-run"
	registriesConfName = "registry.conf"
	cniDirName         = "cni/net.d"

	// CNIConfListName is the file name of the bridge network conflist.
	CNIConfListName = "87-podman-bridge.conflist"
)

// Layout lists the paths a Sandbox owns under its anchor directory.
type Layout struct {
	Anchor         string `json:"anchor"`
	ImageCache     string `json:"image_cache"`
	Root           string `json:"root"`
	RunRoot        string `json:"run_root"`
	RegistriesConf string `json:"registries_conf"`
	CNIConfigDir   string `json:"cni_config_dir"`
	CNIConfList    string `json:"cni_conflist"`
}

func newLayout(anchor string) Layout {
	cniDir := filepath.Join(anchor, filepath.FromSlash(cniDirName))
	return Layout{
		Anchor:         anchor,
		ImageCache:     filepath.Join(anchor, cacheDirName),
		Root:           filepath.Join(anchor, rootDirName),
		RunRoot:        filepath.Join(anchor, runRootDirName),
		RegistriesConf: filepath.Join(anchor, registriesConfName),
		CNIConfigDir:   cniDir,
		CNIConfList:    filepath.Join(cniDir, CNIConfListName),
	}
}

// Sandbox is an isolated podman installation: private storage, registries
// and CNI configuration under one anchor directory. It is live from New until
// Teardown; calling other methods after Teardown is not supported.
type Sandbox struct {
	id          string
	logger      *zap.Logger
	podman      config.PodmanConfig
	registries  config.RegistriesConfig
	cache       config.CacheConfig
	layout      Layout
	baseArgs    []string
	env         []string
	execCommand ExecCommandFunc
	fs          afero.Fs
}

// Option defines a functional option for Sandbox
type Option func(*Sandbox)

// WithCommandFunc sets the function used to create podman processes
func WithCommandFunc(fn ExecCommandFunc) Option {
	return func(s *Sandbox) {
		s.execCommand = fn
	}
}

// WithFileSystem sets the filesystem the sandbox layout is created on
func WithFileSystem(fs afero.Fs) Option {
	return func(s *Sandbox) {
		s.fs = fs
	}
}

// New creates the anchor directory, writes the registries and CNI
// configuration into it and returns a live Sandbox. On failure nothing is
// left behind.
func New(logger *zap.Logger, cfg *config.Config, opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		id:          uuid.NewString(),
		podman:      cfg.Podman,
		registries:  cfg.Registries,
		cache:       cfg.Cache,
		execCommand: exec.CommandContext,
		fs:          afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logger.With(zap.String("sandbox_id", s.id))

	s.baseArgs = []string{
		s.podman.Binary,
		"--storage-driver=" + s.podman.StorageDriver,
		"--cgroup-manager=" + s.podman.CgroupManager,
	}
	if s.podman.Debug {
		s.baseArgs = append(s.baseArgs, "--log-level=debug", "--syslog=true")
	}

	anchor, err := afero.TempDir(s.fs, s.podman.TempDir, anchorPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create anchor directory: %w", err)
	}
	s.layout = newLayout(anchor)

	if err := s.prepare(); err != nil {
		_ = s.fs.RemoveAll(anchor)
		return nil, err
	}

	s.logger.Info("sandbox created",
		zap.String("anchor", anchor),
		zap.Strings("args", s.baseArgs))

	return s, nil
}

func (s *Sandbox) prepare() error {
	for _, dir := range []string{s.layout.ImageCache, s.layout.Root, s.layout.RunRoot} {
		if err := s.fs.MkdirAll(dir, DirPermission); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	s.baseArgs = append(s.baseArgs,
		"--root="+s.layout.Root,
		"--runroot="+s.layout.RunRoot,
	)

	registries, err := renderRegistriesConf(s.registries)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, s.layout.RegistriesConf, registries, FilePermission); err != nil {
		return fmt.Errorf("failed to write registries config: %w", err)
	}

	if err := s.fs.MkdirAll(s.layout.CNIConfigDir, DirPermission); err != nil {
		return fmt.Errorf("failed to create CNI config dir: %w", err)
	}
	s.baseArgs = append(s.baseArgs, "--cni-config-dir="+s.layout.CNIConfigDir)

	src := defaultConfList
	if s.podman.CNIConfigFile != "" {
		src, err = afero.ReadFile(s.fs, s.podman.CNIConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read CNI config: %w", err)
		}
	}
	conflist, err := renderNetworkConfList(src)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, s.layout.CNIConfList, conflist, FilePermission); err != nil {
		return fmt.Errorf("failed to write CNI config: %w", err)
	}

	s.env = []string{
		EnvRegistriesConf + "=" + s.layout.RegistriesConf,
		EnvCNIConfigPath + "=" + s.layout.CNIConfigDir,
	}

	return nil
}

// ID returns the identifier used to correlate this sandbox's log lines.
func (s *Sandbox) ID() string { return s.id }

// Layout returns the paths owned by the sandbox.
func (s *Sandbox) Layout() Layout { return s.layout }

// Args returns the full podman argv for subcommand and args.
func (s *Sandbox) Args(subcommand string, args ...string) []string {
	argv := make([]string, 0, len(s.baseArgs)+1+len(args))
	argv = append(argv, s.baseArgs...)
	argv = append(argv, subcommand)
	return append(argv, args...)
}

// Env returns the KEY=value pairs added to every podman child environment.
func (s *Sandbox) Env() []string {
	return append([]string(nil), s.env...)
}

// Teardown removes the anchor directory and everything below it. It is safe
// to call more than once; later calls report NotFound.
func (s *Sandbox) Teardown() RemovalOutcome {
	outcome := removePath(s.fs, s.layout.Anchor, s.fs.RemoveAll)

	switch outcome.Status {
	case Failed:
		s.logger.Warn("sandbox teardown incomplete",
			zap.String("anchor", outcome.Path),
			zap.Error(outcome.Err))
	default:
		s.logger.Info("sandbox torn down",
			zap.String("anchor", outcome.Path),
			zap.String("status", string(outcome.Status)))
	}

	return outcome
}

func removePath(fs afero.Fs, path string, remove func(string) error) RemovalOutcome {
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		return RemovalOutcome{Path: path, Status: NotFound}
	}

	if err := remove(path); err != nil {
		if os.IsNotExist(err) {
			return RemovalOutcome{Path: path, Status: NotFound}
		}
		return RemovalOutcome{Path: path, Status: Failed, Err: err}
	}

	return RemovalOutcome{Path: path, Status: Removed}
}
