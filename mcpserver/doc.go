// Package mcpserver exposes one podman sandbox over the Model Context Protocol
// (MCP).
//
// The server registers four tools backed by the sandbox:
//
//   - podman runs a podman subcommand against the sandbox storage and returns
//     its exit code, stdout and stderr
//   - restore_image saves the cache image into the sandbox image cache, or
//     loads it into sandbox storage when it is already cached
//   - flush_image_cache removes the cached image tarballs
//   - sandbox_info reports the sandbox ID, its directories and the podman
//     base command
//
// It uses the mark3labs/mcp-go library for the protocol and supports the
// stdio and streamable HTTP transports as configured by server.transport.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, sb, imageClient)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
