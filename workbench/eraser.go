package workbench

import (
	"image"

	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/util"
	"go.uber.org/zap"
)

// BeginErase 在当前可编辑图（有结果用结果，否则用原图）的副本上打开擦除会话。
// 已有会话时丢弃旧的工作图。返回钳制后的半径。
func (w *Workbench) BeginErase(radius int) (int, error) {
	src, err := w.editable()
	if err != nil {
		return 0, err
	}
	eraser := editor.NewEraser(src, radius)

	w.mu.Lock()
	w.dropEraserLocked()
	w.eraser = eraser
	w.mu.Unlock()

	util.Logger.Debug("eraser session opened", zap.Int("radius", eraser.Radius()))
	return eraser.Radius(), nil
}

// EraseStroke 在会话工作图上擦除一次拖动；zoom 为 0 时使用当前视图倍率
func (w *Workbench) EraseStroke(points []image.Point, zoom editor.Zoom) error {
	if w.runner.Busy() {
		return task.ErrBusy
	}
	w.mu.RLock()
	eraser := w.eraser
	if zoom == 0 {
		zoom = w.view
	}
	w.mu.RUnlock()

	if eraser == nil {
		return ErrNoEraser
	}
	return eraser.Drag(points, zoom)
}

// SetEraserRadius 调整会话中的橡皮半径，返回钳制后的值
func (w *Workbench) SetEraserRadius(radius int) (int, error) {
	w.mu.RLock()
	eraser := w.eraser
	w.mu.RUnlock()

	if eraser == nil {
		return 0, ErrNoEraser
	}
	eraser.SetRadius(radius)
	return eraser.Radius(), nil
}

// SaveErase 用工作图替换原图并关闭会话
func (w *Workbench) SaveErase() error {
	if w.runner.Busy() {
		return task.ErrBusy
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eraser == nil {
		return ErrNoEraser
	}
	out, err := w.eraser.Save()
	w.eraser = nil
	if err != nil {
		return err
	}
	w.input = out
	w.result = nil
	util.Logger.Info("eraser session saved")
	return nil
}

// CancelErase 丢弃工作图；没有会话时返回 ErrNoEraser
func (w *Workbench) CancelErase() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eraser == nil {
		return ErrNoEraser
	}
	w.dropEraserLocked()
	util.Logger.Debug("eraser session canceled")
	return nil
}

// Erase 一次性擦除：打开会话、拖动、保存
func (w *Workbench) Erase(points []image.Point, radius int, zoom editor.Zoom) error {
	src, err := w.editable()
	if err != nil {
		return err
	}
	eraser := editor.NewEraser(src, radius)
	if err := eraser.Drag(points, zoom); err != nil {
		eraser.Cancel()
		return err
	}
	out, err := eraser.Save()
	if err != nil {
		return err
	}
	w.commit(out)
	util.Logger.Debug("image erased", zap.Int("points", len(points)), zap.Int("radius", eraser.Radius()))
	return nil
}

// dropEraserLocked 图片被替换后旧的擦除会话失效，调用方持有 w.mu
func (w *Workbench) dropEraserLocked() {
	if w.eraser != nil {
		w.eraser.Cancel()
		w.eraser = nil
	}
}
