package xingest

import (
	"errors"
	"fmt"

	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
)

var (
	// ErrNilFetcher New 的 fetcher 为 nil。
	ErrNilFetcher = errors.New("xingest: fetcher is nil")
	// ErrNilOrchestrator RunAll 的编排器为 nil。
	ErrNilOrchestrator = errors.New("xingest: orchestrator is nil")
	// ErrModeMismatch 续跑状态的分页模式与 Job 不一致。
	ErrModeMismatch = errors.New("xingest: resume state mode does not match job")
)

// RunError 运行停在 Failed。State 是已保存的可续跑状态，Request 是失败页的请求参数。
type RunError struct {
	Stream   string
	Endpoint string
	Request  xpage.Request
	State    *xstate.State
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("xingest: stream %s failed after %d records: %v", e.Stream, e.State.TotalFetched, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Retryable 运行失败不在进程内自动重跑，由调用方决定何时续跑。
func (e *RunError) Retryable() bool { return false }
