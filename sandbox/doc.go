// Package sandbox runs podman against a private, throwaway installation.
//
// A Sandbox owns one anchor directory holding podman's storage root and
// run-root, a registries.conf, a CNI network configuration and an image
// cache. Every podman invocation made through the Sandbox points at those
// paths through command-line flags and a per-process environment, so the
// host's container state is never touched and several sandboxes can run side
// by side.
//
// Usage:
//
//	sb, err := sandbox.New(logger, cfg)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer sb.Teardown()
//
//	result, err := sb.Run(ctx, sandbox.RunOptions{CheckExitCode: true}, "images")
//
//	svc, err := sb.StartService(sandbox.LaunchOptions{})
//	defer svc.Stop(ctx)
package sandbox
