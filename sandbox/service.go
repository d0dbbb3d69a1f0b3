package sandbox

import (
	"path/filepath"
)

const serviceSocketName = "podman.sock"

// ServiceURI is the listen address used by StartService.
func (s *Sandbox) ServiceURI() string {
	return "unix://" + filepath.Join(s.layout.Anchor, serviceSocketName)
}

// StartService launches "podman system service" without an idle timeout,
// listening on ServiceURI. The returned process runs until stopped.
func (s *Sandbox) StartService(opts LaunchOptions) (*Process, error) {
	return s.Launch(opts, "system", "service", "--time=0", s.ServiceURI())
}
