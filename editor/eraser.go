package editor

import (
	"errors"
	"image"
	"sync"

	"github.com/chaos-io/nobg/bitmap"
)

const (
	MinEraserRadius     = 5
	MaxEraserRadius     = 100
	DefaultEraserRadius = 20
)

var ErrEraserClosed = errors.New("eraser session already closed")

// ClampRadius 把橡皮半径限制在 [MinEraserRadius, MaxEraserRadius]
func ClampRadius(r int) int {
	return min(max(r, MinEraserRadius), MaxEraserRadius)
}

// Eraser 在原图副本上涂抹透明圆。没有撤销栈，状态就是累积的工作图。
type Eraser struct {
	mu      sync.Mutex
	working *image.NRGBA
	radius  int
	closed  bool
}

func NewEraser(img image.Image, radius int) *Eraser {
	return &Eraser{
		working: bitmap.Clone(img),
		radius:  ClampRadius(radius),
	}
}

func (e *Eraser) Radius() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.radius
}

func (e *Eraser) SetRadius(r int) {
	e.mu.Lock()
	e.radius = ClampRadius(r)
	e.mu.Unlock()
}

// Stamp 显示坐标点击一次
func (e *Eraser) Stamp(p image.Point, zoom Zoom) error {
	return e.Drag([]image.Point{p}, zoom)
}

// Drag 按拖动轨迹逐点擦除
func (e *Eraser) Drag(points []image.Point, zoom Zoom) error {
	if !zoom.Valid() {
		return ErrBadZoom
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEraserClosed
	}
	for _, p := range points {
		eraseCircle(e.working, zoom.ToSource(p), e.radius)
	}
	return nil
}

// Snapshot 返回当前工作图的拷贝，用于显示
func (e *Eraser) Snapshot() *image.NRGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bitmap.Clone(e.working)
}

// Save 结束会话并交出工作图
func (e *Eraser) Save() (*image.NRGBA, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEraserClosed
	}
	e.closed = true
	out := e.working
	e.working = nil
	return out, nil
}

// Cancel 丢弃工作图
func (e *Eraser) Cancel() {
	e.mu.Lock()
	e.closed = true
	e.working = nil
	e.mu.Unlock()
}

// eraseCircle 把以 c 为圆心、半径 r 的实心圆置为全透明 (0,0,0,0)
func eraseCircle(img *image.NRGBA, c image.Point, r int) {
	if img == nil || r < 0 {
		return
	}
	area := image.Rect(c.X-r, c.Y-r, c.X+r+1, c.Y+r+1).Intersect(img.Rect)
	rr := r * r
	for y := area.Min.Y; y < area.Max.Y; y++ {
		dy := y - c.Y
		for x := area.Min.X; x < area.Max.X; x++ {
			dx := x - c.X
			if dx*dx+dy*dy > rr {
				continue
			}
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0, 0, 0, 0
		}
	}
}
