package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/podbox/config"
	"github.com/isdmx/podbox/sandbox"
)

// Sandbox is the part of *sandbox.Sandbox the tools use.
type Sandbox interface {
	ID() string
	Layout() sandbox.Layout
	Args(subcommand string, args ...string) []string
	Run(ctx context.Context, opts sandbox.RunOptions, subcommand string, args ...string) (*sandbox.RunResult, error)
	RestoreImageFromCache(ctx context.Context, client sandbox.ImageClient) (sandbox.CacheStatus, error)
	CachedImagePath() string
	FlushImageCache() []sandbox.RemovalOutcome
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sandbox   Sandbox
	images    sandbox.ImageClient
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sb Sandbox, images sandbox.ImageClient) (*MCPServer, error) {
	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		sandbox: sb,
		images:  images,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("podman.binary", cfg.Podman.Binary),
		zap.String("podman.storage_driver", cfg.Podman.StorageDriver),
		zap.String("podman.cgroup_manager", cfg.Podman.CgroupManager),
		zap.Bool("podman.debug", cfg.Podman.Debug),
		zap.Strings("registries.search", cfg.Registries.Search),
		zap.String("cache.image", cfg.Cache.Image),
		zap.Bool("service.enabled", cfg.Service.Enabled),
		zap.String("sandbox.id", sb.ID()),
	)

	s.mcpServer = server.NewMCPServer("podbox", "An isolated podman sandbox")

	s.registerPodmanTool()
	s.registerRestoreImageTool()
	s.registerFlushImageCacheTool()
	s.registerSandboxInfoTool()

	return s, nil
}

func (s *MCPServer) registerPodmanTool() {
	tool := mcp.Tool{
		Name:        "podman",
		Description: "Run a podman subcommand inside the sandbox and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"subcommand": map[string]any{
					"type":        "string",
					"description": "Podman subcommand, for example images or run",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Arguments passed after the subcommand",
				},
				"check_exit_code": map[string]any{
					"type":        "boolean",
					"description": "Report a non-zero exit as a tool error",
				},
				"use_shell": map[string]any{
					"type":        "boolean",
					"description": "Run the command through /bin/sh -c",
				},
			},
			Required: []string{"subcommand"},
		},
	}

	s.mcpServer.AddTool(tool, s.handlePodman)
}

func (s *MCPServer) registerRestoreImageTool() {
	tool := mcp.NewTool("restore_image",
		mcp.WithDescription("Save the cache image into the sandbox image cache, or load it into sandbox storage when it is already cached"),
	)
	s.mcpServer.AddTool(tool, s.handleRestoreImage)
}

func (s *MCPServer) registerFlushImageCacheTool() {
	tool := mcp.NewTool("flush_image_cache",
		mcp.WithDescription("Remove every cached image tarball"),
	)
	s.mcpServer.AddTool(tool, s.handleFlushImageCache)
}

func (s *MCPServer) registerSandboxInfoTool() {
	tool := mcp.NewTool("sandbox_info",
		mcp.WithDescription("Describe the sandbox directories and the podman base command"),
	)
	s.mcpServer.AddTool(tool, s.handleSandboxInfo)
}

type podmanResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (s *MCPServer) handlePodman(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subcommand, err := request.RequireString("subcommand")
	if err != nil {
		return nil, fmt.Errorf("subcommand parameter is required: %w", err)
	}

	args := request.GetStringSlice("args", nil)
	opts := sandbox.RunOptions{
		CheckExitCode: request.GetBool("check_exit_code", false),
		UseShell:      request.GetBool("use_shell", false),
	}

	s.logger.Info("podman requested",
		zap.String("subcommand", subcommand),
		zap.Strings("args", args),
		zap.Bool("check_exit_code", opts.CheckExitCode),
		zap.Bool("use_shell", opts.UseShell))

	result, err := s.sandbox.Run(ctx, opts, subcommand, args...)
	if err != nil {
		var failed *sandbox.CommandFailedError
		if errors.As(err, &failed) {
			s.logger.Warn("podman exited non-zero",
				zap.String("subcommand", subcommand),
				zap.Int("exit_code", failed.ExitCode))
			return jsonResult(podmanResult{
				ExitCode: failed.ExitCode,
				Stdout:   failed.Stdout,
				Stderr:   failed.Stderr,
			}, true)
		}

		s.logger.Error("podman failed", zap.String("subcommand", subcommand), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	s.logger.Info("podman completed",
		zap.String("subcommand", subcommand),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	return jsonResult(podmanResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, false)
}

func (s *MCPServer) handleRestoreImage(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.sandbox.RestoreImageFromCache(ctx, s.images)
	if err != nil {
		s.logger.Error("image restore failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Restore failed: %v", err)), nil
	}

	return jsonResult(map[string]string{
		"status": string(status),
		"path":   s.sandbox.CachedImagePath(),
	}, false)
}

type removal struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *MCPServer) handleFlushImageCache(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outcomes := s.sandbox.FlushImageCache()

	removals := make([]removal, 0, len(outcomes))
	failed := false
	for _, o := range outcomes {
		r := removal{Path: o.Path, Status: string(o.Status)}
		if o.Err != nil {
			r.Error = o.Err.Error()
			failed = true
		}
		removals = append(removals, r)
	}

	s.logger.Info("image cache flushed", zap.Int("files", len(removals)), zap.Bool("failed", failed))

	return jsonResult(map[string]any{"removed": removals}, failed)
}

func (s *MCPServer) handleSandboxInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	base := s.sandbox.Args("")
	return jsonResult(map[string]any{
		"id":        s.sandbox.ID(),
		"layout":    s.sandbox.Layout(),
		"base_args": base[:len(base)-1],
	}, false)
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
		IsError: isError,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
