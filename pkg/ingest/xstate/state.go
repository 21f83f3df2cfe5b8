package xstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/xingest/pkg/ingest/xpage"
)

// Status 摄取状态机的位置。
type Status string

// 状态流转：Idle → Fetching → {Retrying | Accepting} → {Terminated | Failed}。
const (
	StatusIdle       Status = "idle"
	StatusFetching   Status = "fetching"
	StatusRetrying   Status = "retrying"
	StatusAccepting  Status = "accepting"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
)

// Terminal 是否为终态。
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusFailed
}

// State 一个摄取流的持久化进度。
type State struct {
	RunID    string     `json:"run_id"`
	Endpoint string     `json:"endpoint"`
	Mode     xpage.Mode `json:"mode"`

	// LastCursor 最后一个写入成功的页的游标最大值，反序列化后数字为 json.Number。
	LastCursor any   `json:"last_cursor,omitempty"`
	HasCursor  bool  `json:"has_cursor,omitempty"`
	LastSkip   int64 `json:"last_skip,omitempty"`

	TotalFetched            int64 `json:"total_fetched"`
	ConsecutiveEmptyBatches int   `json:"consecutive_empty_batches"`
	Duplicates              int64 `json:"duplicates"`
	Pages                   int64 `json:"pages"`
	Requests                int64 `json:"requests"`
	Retries                 int64 `json:"retries"`

	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// New 创建新运行的初始状态。
func New(endpoint string, mode xpage.Mode, now time.Time) *State {
	return &State{
		RunID:     uuid.NewString(),
		Endpoint:  endpoint,
		Mode:      mode,
		Status:    StatusIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Clone 返回副本。游标是标量，浅拷贝即可。
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Checkpoint 转换为分页进度。
func (s *State) Checkpoint() *xpage.Checkpoint {
	return &xpage.Checkpoint{
		Mode:         s.Mode,
		Cursor:       s.LastCursor,
		HasCursor:    s.HasCursor,
		Skip:         s.LastSkip,
		EmptyBatches: s.ConsecutiveEmptyBatches,
		Terminated:   s.Status == StatusTerminated,
	}
}

// ApplyCheckpoint 用分页进度覆盖游标与偏移字段。
func (s *State) ApplyCheckpoint(cp xpage.Checkpoint) {
	s.LastCursor = cp.Cursor
	s.HasCursor = cp.HasCursor
	s.LastSkip = cp.Skip
	s.ConsecutiveEmptyBatches = cp.EmptyBatches
}

// Transition 切换状态并刷新 UpdatedAt，进入终态时记录 FinishedAt。
func (s *State) Transition(to Status, now time.Time) {
	s.Status = to
	s.UpdatedAt = now
	if to.Terminal() {
		s.FinishedAt = now
	} else {
		s.FinishedAt = time.Time{}
	}
}

// Marshal 序列化为 JSON。
func Marshal(s *State) ([]byte, error) {
	if s == nil {
		return nil, ErrNilState
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("xstate: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal 反序列化，数字游标保持 json.Number 以免精度丢失。
func Unmarshal(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var s State
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &s, nil
}
