package main

import (
	"fmt"

	"github.com/nvandessel/mergeq/internal/mcp"
	"github.com/nvandessel/mergeq/internal/metrics"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an MCP server exposing one merge world over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout.

External controllers drive the world with the merge_reset, merge_step,
merge_is_end, merge_is_terminal, merge_status and merge_render tools.
Tool calls are appended to audit.jsonl in the store directory unless
--no-audit is set.

Example MCP client entry:
  {"command": "mergeq", "args": ["serve", "--seed", "7"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("seed") {
				cfg.World.Seed, _ = f.GetUint64("seed")
			}
			if f.Changed("ego-vehicles") {
				cfg.World.EgoVehicles, _ = f.GetInt("ego-vehicles")
			}
			if f.Changed("opponent-vehicles") {
				cfg.World.OpponentVehicles, _ = f.GetInt("opponent-vehicles")
			}
			if f.Changed("fairness") {
				cfg.World.Fairness, _ = f.GetBool("fairness")
			}
			if f.Changed("metrics-addr") {
				cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
			}
			noAudit, _ := f.GetBool("no-audit")

			ctx, cancel := withShutdown(cmd.Context())
			defer cancel()

			logger := newLogger(cmd, cfg)

			var auditDir string
			if !noAudit {
				if auditDir, err = cfg.StoreDir(); err != nil {
					return err
				}
			}

			var recorder *metrics.Recorder
			if cfg.Metrics.Addr != "" {
				recorder = metrics.New()
				addr, _, err := recorder.Serve(ctx, cfg.Metrics.Addr)
				if err != nil {
					return err
				}
				logger.Info("serving metrics", "url", fmt.Sprintf("http://%s/metrics", addr))
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "mergeq",
				Version:  version,
				Merge:    cfg,
				AuditDir: auditDir,
				Logger:   logger,
				Metrics:  recorder,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			return server.Run(ctx)
		},
	}

	cmd.Flags().Uint64("seed", 0, "Random seed for the world (0 picks one)")
	cmd.Flags().Int("ego-vehicles", 0, "Vehicles in the ego coalition (default from config)")
	cmd.Flags().Int("opponent-vehicles", 0, "Vehicles in the opponent coalition (default from config)")
	cmd.Flags().Bool("fairness", false, "Apply the fairness penalty to step rewards")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Bool("no-audit", false, "Do not write audit.jsonl")

	return cmd
}
