package editor

import (
	"errors"
	"image"
)

const (
	MinZoom = 0.1
	MaxZoom = 10.0

	// ZoomIn / ZoomOut 是按钮缩放步长，滚轮用 WheelIn / WheelOut
	ZoomIn   = 1.2
	ZoomOut  = 0.8
	WheelIn  = 1.1
	WheelOut = 0.9
)

var ErrBadZoom = errors.New("zoom factor out of range")

// Zoom 是显示坐标与原图坐标之间的倍率：display = source * zoom
type Zoom float64

// Valid 倍率是否在 [MinZoom, MaxZoom] 内
func (z Zoom) Valid() bool {
	return z >= MinZoom && z <= MaxZoom
}

// Apply 乘以 factor；超出范围时保持不变
func (z Zoom) Apply(factor float64) Zoom {
	next := Zoom(float64(z) * factor)
	if !next.Valid() {
		return z
	}
	return next
}

// Reset 回到 1:1
func (z Zoom) Reset() Zoom { return 1 }

// ToSource 显示坐标转原图坐标（截断取整）
func (z Zoom) ToSource(p image.Point) image.Point {
	return image.Pt(int(float64(p.X)/float64(z)), int(float64(p.Y)/float64(z)))
}

// ToDisplay 原图坐标转显示坐标（截断取整）
func (z Zoom) ToDisplay(p image.Point) image.Point {
	return image.Pt(int(float64(p.X)*float64(z)), int(float64(p.Y)*float64(z)))
}
