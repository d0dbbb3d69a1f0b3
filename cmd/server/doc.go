// Package main is the entry point for the podbox MCP server.
//
// The server creates one isolated podman sandbox (private storage, registries
// and CNI configuration under a temporary anchor directory) and exposes it to
// MCP clients over stdio or HTTP. When service.enabled is set it also runs
// "podman system service" on a socket inside the sandbox. The sandbox
// directory is removed when the application stops.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
