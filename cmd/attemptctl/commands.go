package main

import (
	"context"
	"encoding/json"
	"exam_platform_backend/internal/app"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/pkg/logger"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	configDir   string
	allStatuses bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "attemptctl",
		Short:        "Operational commands for timed exam attempts",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config", "configs", "directory containing config.yaml")

	autosubmitCmd := &cobra.Command{
		Use:   "autosubmit [attemptID]",
		Short: "Force-close one attempt if its deadline has passed",
		Long:  `Auto-submits the attempt when it is still in progress and overdue. Attempts that are already closed or not yet due are left untouched and the command still succeeds.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			_, err := parseAttemptID(args[0])
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := parseAttemptID(args[0])
			return withCore(cmd, opts, func(ctx context.Context, core *app.Core) error {
				attempt, closed, err := core.AttemptService.AutoSubmit(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"attemptId": attempt.ID,
					"status":    attempt.Status,
					"closed":    closed,
					"score":     attempt.Score,
				})
			})
		},
	}

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Snapshot paper durations onto attempts that are missing one",
		Long:  `Idempotent repair: only rows with duration_sec = 0 are written, a second run updates nothing.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, opts, func(ctx context.Context, core *app.Core) error {
				if opts.allStatuses {
					core.Backfill.IncludeClosed = true
				}
				res, err := core.Backfill.Run(ctx)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	backfillCmd.Flags().BoolVar(&opts.allStatuses, "all-statuses", false, "also repair submitted and auto-submitted attempts")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one deadline sweep pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, opts, func(ctx context.Context, core *app.Core) error {
				res, err := core.Sweeper.RunOnce(ctx)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}

	rootCmd.AddCommand(autosubmitCmd, backfillCmd, sweepCmd)
	return rootCmd
}

func parseAttemptID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid attempt id %q", s)
	}
	return uint(id), nil
}

// withCore 加载配置并组装组件，执行结束后释放连接；Ctrl-C 取消执行中的任务
func withCore(cmd *cobra.Command, opts *options, fn func(ctx context.Context, core *app.Core) error) error {
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	// 一次性命令不暴露 /metrics，不注册 prometheus 指标；结果以 JSON 输出
	core, err := app.NewCore(cfg, false)
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, core)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
