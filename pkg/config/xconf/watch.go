package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce 默认防抖窗口。
const DefaultDebounce = 100 * time.Millisecond

// WatchCallback 文件变更后回调，err 非 nil 表示重载失败（旧配置仍然生效）。
type WatchCallback func(cfg Config, err error)

// WatchOption 监视选项。
type WatchOption func(*Watcher)

// WithDebounce 设置防抖窗口
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher 配置文件监视器。
type Watcher struct {
	cfg      Config
	fs       *fsnotify.Watcher
	callback WatchCallback
	debounce time.Duration
	filename string

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	pending sync.WaitGroup
}

// Watch 开始监视 cfg 的文件，直到 ctx 结束或调用 Stop。无论哪种方式结束，都要调用 Stop 释放 fsnotify 句柄。
func Watch(ctx context.Context, cfg Config, callback WatchCallback, opts ...WatchOption) (*Watcher, error) {
	if cfg == nil || cfg.Path() == "" {
		return nil, ErrNotWatchable
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}
	dir := filepath.Dir(cfg.Path())
	if err := fs.Add(dir); err != nil {
		return nil, errors.Join(fmt.Errorf("xconf: watch %s: %w", dir, err), fs.Close())
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:      cfg,
		fs:       fs,
		callback: callback,
		debounce: DefaultDebounce,
		filename: filepath.Base(cfg.Path()),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	go w.run(ctx)
	return w, nil
}

// Stop 停止监视。返回后不会再有回调执行；可以重复调用，但不能在回调中调用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil && w.timer.Stop() {
		w.pending.Done()
	}
	w.mu.Unlock()

	w.cancel()
	<-w.done
	w.pending.Wait()
	return w.fs.Close()
}

// Done 监视循环退出时关闭。
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.notify(fmt.Errorf("xconf: watch: %w", err))
		}
	}
}

// handle 只关心目标文件的写入、创建与 rename。
func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != w.filename {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil && w.timer.Stop() {
		w.pending.Done()
	}
	w.pending.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		w.notify(w.cfg.Reload())
	})
}

func (w *Watcher) notify(err error) {
	if w.callback != nil {
		w.callback(w.cfg, err)
	}
}
