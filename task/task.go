// Package task 在后台 goroutine 中执行长操作。同一时刻只允许一个任务，
// 忙时直接拒绝，不排队。
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chaos-io/nobg/batch"
	"github.com/chaos-io/nobg/util"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

var (
	ErrBusy     = errors.New("another task is running")
	ErrNotFound = errors.New("task not found")
)

type State string

const (
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Func 是任务体。进度通过 t.OnProgress 上报。
type Func func(ctx context.Context, t *Task) (any, error)

type Task struct {
	ID      string
	Name    string
	Created time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	state    State
	progress batch.Progress
	result   any
	err      error
	finished time.Time
}

// Info 任务快照
type Info struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	State    State          `json:"state"`
	Progress batch.Progress `json:"progress"`
	Error    string         `json:"error,omitempty"`
	Result   any            `json:"result,omitempty"`
	Created  time.Time      `json:"created"`
	Finished *time.Time     `json:"finished,omitempty"`
}

// OnProgress 实现 batch.Observer
func (t *Task) OnProgress(p batch.Progress) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Wait 等待任务结束或 ctx 超时
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.Result(), t.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) Cancel() { t.cancel() }

func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Task) Progress() batch.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

func (t *Task) Result() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Task) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := Info{
		ID:       t.ID,
		Name:     t.Name,
		State:    t.state,
		Progress: t.progress,
		Result:   t.result,
		Created:  t.Created,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if !t.finished.IsZero() {
		finished := t.finished
		info.Finished = &finished
	}
	return info
}

func (t *Task) finish(ctx context.Context, result any, err error) {
	t.mu.Lock()
	t.result = result
	t.err = err
	t.finished = time.Now()
	switch {
	case err == nil:
		t.state = StateDone
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		t.state = StateCanceled
	default:
		t.state = StateFailed
	}
	t.mu.Unlock()
	close(t.done)
}

const defaultHistory = 32

// Runner 单 worker 的任务执行器
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  *Task
	tasks   map[string]*Task
	order   []string
	history int
}

func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
		history: defaultHistory,
	}
}

// Busy 是否有任务在跑
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked()
}

func (r *Runner) busyLocked() bool {
	if r.active == nil {
		return false
	}
	select {
	case <-r.active.done:
		return false
	default:
		return true
	}
}

// Start 启动任务；已有任务在跑时返回 ErrBusy
func (r *Runner) Start(name string, fn Func) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.busyLocked() {
		return nil, ErrBusy
	}
	if err := r.ctx.Err(); err != nil {
		return nil, fmt.Errorf("runner closed: %w", err)
	}

	ctx, cancel := context.WithCancel(r.ctx)
	t := &Task{
		ID:      ksuid.New().String(),
		Name:    name,
		Created: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateRunning,
	}
	r.active = t
	r.remember(t)

	util.Logger.Info("task started", zap.String("id", t.ID), zap.String("name", name))
	go r.run(ctx, t, fn)
	return t, nil
}

func (r *Runner) run(ctx context.Context, t *Task, fn Func) {
	var (
		result any
		err    error
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, p)
			util.Logger.Error("task panicked", zap.String("id", t.ID), zap.Any("panic", p))
		}
		t.finish(ctx, result, err)
		t.cancel()

		fields := []zap.Field{
			zap.String("id", t.ID),
			zap.String("name", t.Name),
			zap.String("state", string(t.State())),
			zap.Duration("cost", time.Since(t.Created)),
		}
		if err != nil {
			util.Logger.Warn("task finished with error", append(fields, zap.Error(err))...)
		} else {
			util.Logger.Info("task finished", fields...)
		}
	}()

	result, err = fn(ctx, t)
}

func (r *Runner) remember(t *Task) {
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
	for len(r.order) > r.history {
		delete(r.tasks, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Runner) Get(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Active 当前或最近一次的任务，可能为 nil
func (r *Runner) Active() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Shutdown 取消所有任务并等待当前任务退出
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	t := r.Active()
	if t == nil {
		return nil
	}
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
