// Package schedule 按 cron 表达式定时对一个目录跑批处理
package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/util"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Starter 启动一次批处理，workbench.Workbench 实现了它
type Starter interface {
	StartBatch(src, dst string) (*task.Task, error)
}

type Watcher struct {
	cron    *cron.Cron
	starter Starter
	source  string
	dest    string
	entry   cron.EntryID
}

func New(spec, source, dest string, starter Starter) (*Watcher, error) {
	if source == "" || dest == "" {
		return nil, errors.New("watch source and dest are required")
	}
	w := &Watcher{
		starter: starter,
		source:  source,
		dest:    dest,
	}

	logger := cronLogger{}
	w.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := w.cron.AddFunc(spec, w.Run)
	if err != nil {
		return nil, fmt.Errorf("parse spec %q: %w", spec, err)
	}
	w.entry = id
	return w, nil
}

// Run 触发一次。已有任务在跑时跳过，不排队。
func (w *Watcher) Run() {
	files, err := bitmap.ListImages(w.source)
	if err != nil {
		util.Logger.Warn("watch folder unavailable", zap.String("source", w.source), zap.Error(err))
		return
	}
	if len(files) == 0 {
		util.Logger.Debug("watch folder empty", zap.String("source", w.source))
		return
	}

	t, err := w.starter.StartBatch(w.source, w.dest)
	switch {
	case errors.Is(err, task.ErrBusy):
		util.Logger.Warn("workbench busy, scheduled batch skipped", zap.String("source", w.source))
	case err != nil:
		util.Logger.Error("failed to start scheduled batch", zap.String("source", w.source), zap.Error(err))
	default:
		util.Logger.Info("scheduled batch started",
			zap.String("task", t.ID),
			zap.String("source", w.source),
			zap.String("dest", w.dest),
			zap.Int("files", len(files)))
	}
}

func (w *Watcher) Start() {
	w.cron.Start()
	util.Logger.Info("watcher started",
		zap.String("source", w.source),
		zap.Time("next", w.cron.Entry(w.entry).Next))
}

// Stop 停止调度，返回的 ctx 在正在执行的触发结束后关闭
func (w *Watcher) Stop() context.Context {
	return w.cron.Stop()
}

// cronLogger 把 cron 的日志转到 zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	util.Logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	util.Logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
