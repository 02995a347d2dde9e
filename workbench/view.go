package workbench

import (
	"errors"
	"fmt"

	"github.com/chaos-io/nobg/editor"
)

var ErrUnknownZoomStep = errors.New("unknown zoom step")

// ZoomStep 画布缩放操作：按钮、滚轮或回到 1:1
type ZoomStep string

const (
	StepIn       ZoomStep = "in"
	StepOut      ZoomStep = "out"
	StepWheelIn  ZoomStep = "wheel_in"
	StepWheelOut ZoomStep = "wheel_out"
	StepReset    ZoomStep = "reset"
)

func (s ZoomStep) factor() (float64, error) {
	switch s {
	case StepIn:
		return editor.ZoomIn, nil
	case StepOut:
		return editor.ZoomOut, nil
	case StepWheelIn:
		return editor.WheelIn, nil
	case StepWheelOut:
		return editor.WheelOut, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownZoomStep, s)
	}
}

// Zoom 当前画布倍率，选框和擦除不带倍率时用它换算坐标
func (w *Workbench) Zoom() editor.Zoom {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view
}

// StepZoom 按步长缩放画布；越界时倍率不变
func (w *Workbench) StepZoom(step ZoomStep) (editor.Zoom, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if step == StepReset {
		w.view = w.view.Reset()
		return w.view, nil
	}
	f, err := step.factor()
	if err != nil {
		return w.view, err
	}
	w.view = w.view.Apply(f)
	return w.view, nil
}
