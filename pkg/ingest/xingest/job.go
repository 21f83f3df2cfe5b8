package xingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omeyang/xingest/pkg/ingest/xfetch"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/ingest/xsink"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
)

// ErrInvalidJob Job 校验失败。
var ErrInvalidJob = errors.New("xingest: invalid job")

// Job 一个摄取流的定义。
type Job struct {
	// Name 流名称，同时是状态存储和锁的键；为空时使用 EndpointKey。
	Name       string
	Endpoint   string
	Sink       xsink.Sink
	PrimaryKey string

	Mode        xpage.Mode
	CursorField string
	Filter      string
	OrderBy     string
	Select      []string

	// PageSize、EmptyBatchLimit 为 0 时使用 Orchestrator 的配置。
	PageSize        int
	EmptyBatchLimit int

	// ExpectedTotal 调用方已知的数据集总数，优先于服务端的 @odata.count。
	ExpectedTotal *int64
	// RequestCount 请求 $count=true，用首页返回的总数做完整性检查。
	RequestCount bool

	// Resume 显式指定续跑状态，优先于存储中的状态。
	Resume *xstate.State
	// SeedFromSink 游标模式下没有任何状态时，以 Sink 中的最大键作为起点。
	SeedFromSink bool
}

// Key 返回状态与锁使用的键。
func (j Job) Key() string {
	if name := strings.TrimSpace(j.Name); name != "" {
		return name
	}
	return xfetch.EndpointKey(j.Endpoint)
}

// Validate 校验必填项。
func (j Job) Validate() error {
	var errs []error
	if strings.TrimSpace(j.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if j.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if strings.TrimSpace(j.PrimaryKey) == "" {
		errs = append(errs, errors.New("primary key is required"))
	}
	if !j.Mode.Valid() {
		errs = append(errs, fmt.Errorf("mode %q is not cursor or offset", j.Mode))
	}
	if j.Mode == xpage.ModeCursor && strings.TrimSpace(j.CursorField) == "" {
		errs = append(errs, errors.New("cursor mode requires a cursor field"))
	}
	if j.PageSize < 0 || j.EmptyBatchLimit < 0 {
		errs = append(errs, errors.New("page size and empty batch limit must not be negative"))
	}
	if j.ExpectedTotal != nil && *j.ExpectedTotal < 0 {
		errs = append(errs, errors.New("expected total must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidJob, j.Key(), errors.Join(errs...))
	}
	return nil
}
