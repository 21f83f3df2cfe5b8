// xingest 从 OData 端点增量摄取数据到 Sink。
//
// 用法:
//
//	xingest <命令> [选项]
//
// 命令:
//
//	run              运行配置文件中的流
//	  -c, --config   配置文件路径 (默认: xingest.yaml)
//	  -s, --stream   只运行指定的流，可重复
//	  --schedule     cron 表达式，常驻并按计划运行
//	  --watch        监听配置文件，热更新日志级别
//	state show <流>  以 JSON 输出流的持久化进度
//	state reset <流> 删除流的进度
//	version          显示版本信息
//
// 退出码:
//
//	0: 全部流成功
//	1: 至少一个流失败，或 state show 时流没有进度
//	2: 参数或配置错误
//
// 示例:
//
//	xingest run -c ingest.yaml
//	xingest run -c ingest.yaml -s orders --schedule "*/5 * * * *" --watch
//	xingest state show -c ingest.yaml orders
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

// 版本信息，通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:         "xingest",
		Usage:        "OData 增量摄取",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:       stdout,
		ErrWriter:    stderr,
		Commands:     createCommands(),
		OnUsageError: onUsageError,
		// 退出码统一由 execute 映射，禁止 urfave/cli 直接 os.Exit。
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(stderr, err)
			}
		},
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	return execute(ctx, os.Args, os.Stdout, os.Stderr)
}

// execute 运行 CLI 并返回退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := createApp(stdout, stderr).Run(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}
