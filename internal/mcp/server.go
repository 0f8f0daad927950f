package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/mergeq/internal/coalition"
	"github.com/nvandessel/mergeq/internal/config"
	"github.com/nvandessel/mergeq/internal/logging"
	"github.com/nvandessel/mergeq/internal/merge"
	"github.com/nvandessel/mergeq/internal/metrics"
	"github.com/nvandessel/mergeq/internal/ratelimit"
)

// Server wraps the MCP SDK server around a single merge world. Tool calls are
// serialised; the world itself is not safe for concurrent use.
type Server struct {
	server *sdk.Server

	mu      sync.Mutex
	world   *merge.World
	reg     *coalition.Registry
	steps   int
	returns merge.Reward

	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	metrics      *metrics.Recorder
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "mergeq")
	Version string // Server version

	// Merge supplies the world settings; nil means config.Default().
	Merge *config.MergeConfig

	// AuditDir receives audit.jsonl; empty disables auditing.
	AuditDir string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewServer creates a new MCP server with the merge tools and a fresh world.
func NewServer(cfg *Config) (*Server, error) {
	mc := cfg.Merge
	if mc == nil {
		mc = config.Default()
	}
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg, err := coalition.NewRegistry(mc.World.EgoVehicles, mc.World.OpponentVehicles)
	if err != nil {
		return nil, err
	}
	wcfg := mc.WorldOptions()
	wcfg.Listener = coalition.Listeners{reg, cfg.Metrics}
	world, err := merge.New(reg, wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create world: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		world:        world,
		reg:          reg,
		toolLimiters: ratelimit.NewToolLimiters(),
		metrics:      cfg.Metrics,
		logger:       logger,
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	if err := s.registerTools(); err != nil {
		s.auditLogger.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server starting", "coalitions", s.reg.String())
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
