package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/nvandessel/mergeq/internal/backup"
	"github.com/nvandessel/mergeq/internal/pathutil"
	"github.com/nvandessel/mergeq/internal/store"
	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect, back up and restore stored runs",
		Long: `List, show and delete runs recorded by 'mergeq run', and move them
between machines with backup, restore and verify.

Runs are stored in results.db under the store directory (~/.mergeq by
default).`,
	}

	cmd.AddCommand(
		newResultsListCmd(),
		newResultsShowCmd(),
		newResultsDeleteCmd(),
		newResultsBackupCmd(),
		newResultsRestoreCmd(),
		newResultsVerifyCmd(),
	)
	return cmd
}

func newResultsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := storeFor(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				if runs == nil {
					runs = []store.RunSummary{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet. Use 'mergeq run' to play some episodes.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tCOALITIONS\tPOLICIES\tEPISODES\tEGO\tOPP\tSTEPS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s/%s\t%d\t%.2f\t%.2f\t%.1f\n",
					r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"),
					r.EgoVehicles, r.OpponentVehicles, r.EgoPolicy, r.OpponentPolicy,
					r.Episodes, r.MeanEgoReturn, r.MeanOpponentReturn, r.MeanSteps)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum runs to show (0 for all)")
	return cmd
}

func newResultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := storeFor(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			episodes, err := s.ListEpisodes(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("failed to list episodes: %w", err)
			}

			if jsonOut {
				if episodes == nil {
					episodes = []store.Episode{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run":      run,
					"episodes": episodes,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s\n", run.ID)
			fmt.Fprintf(w, "  created:     %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "  coalitions:  ego %d, opponent %d\n", run.EgoVehicles, run.OpponentVehicles)
			fmt.Fprintf(w, "  policies:    %s vs %s\n", run.EgoPolicy, run.OpponentPolicy)
			fmt.Fprintf(w, "  seed:        %d\n", run.Seed)
			fmt.Fprintf(w, "  fairness:    %v\n", run.Fairness)
			fmt.Fprintf(w, "  until:       %s\n", run.Until)
			fmt.Fprintf(w, "  mean return: ego %.3f, opponent %.3f over %d episodes (%d truncated)\n",
				run.MeanEgoReturn, run.MeanOpponentReturn, run.Episodes, run.Truncated)
			fmt.Fprintln(w)

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EP\tOUTCOME\tSTEPS\tTIME\tEGO\tOPP\tEGO CLEAR\tOPP CLEAR\tSTART")
			for _, e := range episodes {
				outcome := e.Outcome
				if e.Truncated {
					outcome += " (truncated)"
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.2f\t%.2f\t%d\t%d\t%v|%v\n",
					e.Index, outcome, e.Steps, e.Timestep, e.EgoReturn, e.OpponentReturn,
					e.EgoClear, e.OpponentClear, e.InitialLeft, e.InitialRight)
			}
			return tw.Flush()
		},
	}
}

func newResultsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := storeFor(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("run not found: %s", args[0])
				}
				return fmt.Errorf("failed to delete run: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"status": "deleted",
					"id":     args[0],
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}

func newResultsBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot every stored run to a compressed file",
		Long: `Write all runs and episodes to a checksummed, gzip-compressed backup.

Backups go to <store dir>/backups unless --output is given; an explicit
path must still lie under the store directory. Retention flags prune
older backups in the backups directory afterwards.

Examples:
  mergeq results backup
  mergeq results backup --keep 5 --max-age 30d
  mergeq results backup --output ./results.mqb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			storeDir, err := cfg.StoreDir()
			if err != nil {
				return err
			}

			var policies []backup.RetentionPolicy
			if keep > 0 {
				policies = append(policies, &backup.CountPolicy{MaxCount: keep})
			}
			if maxAge != "" {
				d, err := backup.ParseDuration(maxAge)
				if err != nil {
					return err
				}
				policies = append(policies, &backup.AgePolicy{MaxAge: d})
			}

			dir := backup.DefaultDir(storeDir)
			if output == "" {
				output = backup.GeneratePath(dir)
			} else if err := pathutil.ValidatePath(output, pathutil.ResultsDirs(storeDir)); err != nil {
				return fmt.Errorf("invalid output path: %w", err)
			}

			s, err := storeFor(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := backup.Backup(cmd.Context(), s, output)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			var deleted []string
			if len(policies) > 0 {
				deleted, err = backup.ApplyRetention(dir, &backup.CompositePolicy{Policies: policies})
				if err != nil {
					return fmt.Errorf("retention failed: %w", err)
				}
			}

			if jsonOut {
				if deleted == nil {
					deleted = []string{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":     output,
					"runs":     len(snap.Runs),
					"episodes": snap.EpisodeCount(),
					"pruned":   deleted,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d runs (%d episodes) to %s\n",
				len(snap.Runs), snap.EpisodeCount(), output)
			if len(deleted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d old backups\n", len(deleted))
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Backup file path (default <store dir>/backups/mergeq-backup-<time>.mqb)")
	cmd.Flags().Int("keep", 0, "Keep only the N newest backups (0 keeps all)")
	cmd.Flags().String("max-age", "", "Also keep backups newer than this, e.g. 30d, 2w, 72h")
	return cmd
}

func newResultsRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Load runs from a backup file",
		Long: `Restore runs and episodes from a backup written by 'mergeq results backup'.

By default runs that already exist are skipped. --replace deletes every
stored run first. The file must lie under the store directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			replace, _ := cmd.Flags().GetBool("replace")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			storeDir, err := cfg.StoreDir()
			if err != nil {
				return err
			}
			if err := pathutil.ValidatePath(args[0], pathutil.ResultsDirs(storeDir)); err != nil {
				return fmt.Errorf("invalid backup path: %w", err)
			}
			s, err := storeFor(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			mode := backup.RestoreMerge
			if replace {
				mode = backup.RestoreReplace
			}
			result, err := backup.Restore(cmd.Context(), s, args[0], mode)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d runs (%d episodes), skipped %d existing",
				result.RunsRestored, result.EpisodesRestored, result.RunsSkipped)
			if result.RunsDeleted > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", replaced %d", result.RunsDeleted)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().Bool("replace", false, "Delete all stored runs before restoring")
	return cmd
}

func newResultsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check a backup file's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			if err := backup.VerifyChecksum(args[0]); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			header, err := backup.ReadHeader(args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "ok",
					"header": header,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d runs, %d episodes, created %s\n",
				header.RunCount, header.EpisodeCount, header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
