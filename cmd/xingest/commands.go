package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xingest/pkg/config/xconf"
	"github.com/omeyang/xingest/pkg/ingest/xingest"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
	"github.com/omeyang/xingest/pkg/observability/xlog"
)

const defaultConfigPath = "xingest.yaml"

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 参数或配置错误，退出码 2。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func onUsageError(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return &usageError{err: err}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "配置文件路径（YAML 或 JSON）",
		Value:   defaultConfigPath,
	}
}

func createCommands() []*cli.Command {
	return []*cli.Command{
		createRunCommand(),
		createStateCommand(),
		createVersionCommand(),
	}
}

func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:         "run",
		Usage:        "运行摄取流",
		OnUsageError: onUsageError,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringSliceFlag{
				Name:    "stream",
				Aliases: []string{"s"},
				Usage:   "只运行指定的流，可重复",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "cron 表达式，设置后常驻并按计划运行",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "监听配置文件，变更时热更新日志级别",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cmdRun(ctx, runOptions{
				config:   cmd.String("config"),
				streams:  cmd.StringSlice("stream"),
				schedule: cmd.String("schedule"),
				watch:    cmd.Bool("watch"),
				stdout:   cmd.Root().Writer,
				stderr:   cmd.Root().ErrWriter,
			})
		},
	}
}

func createStateCommand() *cli.Command {
	return &cli.Command{
		Name:         "state",
		Usage:        "查看或重置流的持久化进度",
		OnUsageError: onUsageError,
		Commands: []*cli.Command{
			{
				Name:         "show",
				Usage:        "以 JSON 输出流的进度",
				ArgsUsage:    "<stream>",
				Flags:        []cli.Flag{configFlag()},
				OnUsageError: onUsageError,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStore(ctx, cmd, func(ctx context.Context, store xstate.Store, key string) error {
						return cmdStateShow(ctx, cmd.Root().Writer, store, key)
					})
				},
			},
			{
				Name:         "reset",
				Usage:        "删除流的进度，下次运行从头开始",
				ArgsUsage:    "<stream>",
				Flags:        []cli.Flag{configFlag()},
				OnUsageError: onUsageError,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStore(ctx, cmd, func(ctx context.Context, store xstate.Store, key string) error {
						if err := store.Delete(ctx, key); err != nil {
							return err
						}
						fmt.Fprintf(cmd.Root().Writer, "已重置: %s\n", key)
						return nil
					})
				},
			},
		},
	}
}

func createVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "显示版本信息",
		Action: func(_ context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			fmt.Fprintf(w, "xingest %s\n", Version)
			fmt.Fprintf(w, "commit: %s\n", GitCommit)
			fmt.Fprintf(w, "built:  %s\n", BuildTime)
			return nil
		},
	}
}

type runOptions struct {
	config   string
	streams  []string
	schedule string
	watch    bool
	stdout   io.Writer
	stderr   io.Writer
}

// cmdRun 运行选中的流。单次运行时任一流失败返回退出码 1；
// 计划模式下常驻直到 ctx 取消，失败只体现在输出与日志中。
func cmdRun(ctx context.Context, opts runOptions) error {
	cfg, src, err := loadConfig(opts.config)
	if err != nil {
		return &usageError{err: err}
	}
	streams, err := cfg.selectStreams(opts.streams)
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		return &usageError{err: errors.New("no streams configured")}
	}

	var sched cron.Schedule
	if opts.schedule != "" {
		if sched, err = cron.ParseStandard(opts.schedule); err != nil {
			return &usageError{err: fmt.Errorf("invalid --schedule: %w", err)}
		}
	}

	rt, err := openRuntime(ctx, cfg, opts.stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(opts.stderr, "关闭资源失败: %v\n", cerr)
		}
	}()

	jobs, err := rt.openJobs(ctx, streams)
	if err != nil {
		return err
	}

	if opts.watch {
		w, err := xconf.Watch(ctx, src, func(c xconf.Config, werr error) {
			reloadLogLevel(ctx, rt.logger, c, werr)
		})
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	if sched == nil {
		if !runOnce(ctx, rt, jobs, opts.stdout) {
			return &exitError{code: 1}
		}
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		runOnce(ctx, rt, jobs, opts.stdout)
	}))
	rt.logger.Info(ctx, "scheduler started", xlog.Component("cron"), xlog.Count(int64(len(jobs))))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	rt.logger.Info(context.WithoutCancel(ctx), "scheduler stopped", xlog.Component("cron"))
	return nil
}

// runOnce 并发运行所有流并输出汇总，全部成功返回 true。
func runOnce(ctx context.Context, rt *runtime, jobs []xingest.Job, w io.Writer) bool {
	results, err := xingest.RunAll(ctx, rt.orch, jobs)
	printSummary(w, results)
	printBreakers(w, rt)
	return err == nil
}

func reloadLogLevel(ctx context.Context, logger xlog.LoggerWithLevel, src xconf.Config, err error) {
	if err != nil {
		logger.Warn(ctx, "config reload failed", xlog.Component("xconf"), xlog.Err(err))
		return
	}
	cfg, err := decodeConfig(src)
	if err != nil {
		logger.Warn(ctx, "config reload rejected", xlog.Component("xconf"), xlog.Err(err))
		return
	}
	if cfg.Log.Level != logger.GetLevel() {
		logger.SetLevel(cfg.Log.Level)
		logger.Info(ctx, "log level changed", xlog.Component("xconf"), xlog.State(cfg.Log.Level.String()))
	}
}

func printSummary(w io.Writer, results []xingest.JobResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tSTATUS\tPAGES\tFETCHED\tDUPLICATES\tTOTAL\tPOSITION\tERROR")
	var warnings []error
	for _, jr := range results {
		name := jr.Job.Key()
		st := stateOf(jr)
		var pages int
		var fetched, dups int64
		if jr.Result != nil {
			pages, fetched, dups = jr.Result.Pages, jr.Result.Fetched, jr.Result.Duplicates
			warnings = append(warnings, jr.Result.Warnings...)
		}
		status, total, position := "-", "-", "-"
		if st != nil {
			status = string(st.Status)
			total = fmt.Sprint(st.TotalFetched)
			position = positionOf(st)
		}
		errText := "-"
		if jr.Err != nil {
			errText = jr.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			name, status, pages, fetched, dups, total, position, errText)
	}
	_ = tw.Flush()
	for _, warn := range warnings {
		fmt.Fprintf(w, "警告: %v\n", warn)
	}
}

func stateOf(jr xingest.JobResult) *xstate.State {
	if jr.Result != nil && jr.Result.State != nil {
		return jr.Result.State
	}
	var runErr *xingest.RunError
	if errors.As(jr.Err, &runErr) {
		return runErr.State
	}
	return nil
}

func positionOf(st *xstate.State) string {
	if st.HasCursor {
		return fmt.Sprintf("cursor=%v", st.LastCursor)
	}
	if st.LastSkip > 0 {
		return fmt.Sprintf("skip=%d", st.LastSkip)
	}
	return "-"
}

func printBreakers(w io.Writer, rt *runtime) {
	snaps := rt.registry.Snapshots()
	if len(snaps) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tBREAKER\tFAILURES\tTHRESHOLD")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.Name, s.State, s.FailureCount, s.Threshold)
	}
	_ = tw.Flush()
}

// withStore 解析 <stream> 参数并打开状态存储。
func withStore(ctx context.Context, cmd *cli.Command, fn func(context.Context, xstate.Store, string) error) error {
	if cmd.Args().Len() != 1 {
		return &usageError{err: fmt.Errorf("%s requires exactly one <stream>", cmd.Name)}
	}
	name := cmd.Args().First()

	cfg, _, err := loadConfig(cmd.String("config"))
	if err != nil {
		return &usageError{err: err}
	}
	streams, err := cfg.selectStreams([]string{name})
	if err != nil {
		return err
	}
	if cfg.State.Type == "none" {
		return &usageError{err: errors.New("state.type none keeps no progress")}
	}

	rt, err := openBase(ctx, cfg, cmd.Root().ErrWriter)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	job := xingest.Job{Name: streams[0].Name, Endpoint: streams[0].Endpoint}
	return fn(ctx, rt.store, job.Key())
}

func cmdStateShow(ctx context.Context, w io.Writer, store xstate.Store, key string) error {
	st, err := store.Load(ctx, key)
	if errors.Is(err, xstate.ErrNotFound) {
		fmt.Fprintf(w, "无进度: %s\n", key)
		return &exitError{code: 1}
	}
	if err != nil {
		return err
	}
	data, err := xstate.Marshal(st)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}

// setupSignalHandler 第一次信号取消 ctx，第二次强制退出（130 = 128 + SIGINT）。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
