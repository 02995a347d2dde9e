package editor

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var ErrEmptySelection = errors.New("empty selection")

// Rect 是原图像素坐标下的裁剪框
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewRect 规范化并校验，面积为 0 时返回 ErrEmptySelection
func NewRect(x1, y1, x2, y2 int) (Rect, error) {
	r := Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}.Normalize()
	if r.Empty() {
		return Rect{}, ErrEmptySelection
	}
	return r, nil
}

// Normalize 保证 X1<=X2, Y1<=Y2
func (r Rect) Normalize() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

func (r Rect) Dx() int { return r.X2 - r.X1 }
func (r Rect) Dy() int { return r.Y2 - r.Y1 }

// Empty 宽或高不为正
func (r Rect) Empty() bool {
	return r.Dx() <= 0 || r.Dy() <= 0
}

func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// SelectionFromDisplay 把显示坐标下拖出的两个端点换算为原图裁剪框
func SelectionFromDisplay(start, end image.Point, zoom Zoom) (Rect, error) {
	if !zoom.Valid() {
		return Rect{}, ErrBadZoom
	}
	display := Rect{X1: start.X, Y1: start.Y, X2: end.X, Y2: end.Y}.Normalize()
	if display.Empty() {
		return Rect{}, ErrEmptySelection
	}

	lo := zoom.ToSource(image.Pt(display.X1, display.Y1))
	hi := zoom.ToSource(image.Pt(display.X2, display.Y2))
	return NewRect(lo.X, lo.Y, hi.X, hi.Y)
}

// Crop 直接拷贝像素区域，不做插值。输出尺寸恒为 r.Dx() x r.Dy()，
// 落在原图之外的部分是全透明像素，所以同一个框作用于不同尺寸的图片得到相同尺寸。
func Crop(img image.Image, r Rect) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	r = r.Normalize()
	if r.Empty() {
		return nil, ErrEmptySelection
	}

	b := img.Bounds()
	if abs := r.Rectangle().Add(b.Min); abs.In(b) {
		return imaging.Crop(img, abs), nil
	}

	dst := imaging.New(r.Dx(), r.Dy(), color.Transparent)
	return imaging.Paste(dst, img, image.Pt(-r.X1, -r.Y1)), nil
}
