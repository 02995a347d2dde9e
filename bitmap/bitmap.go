// Package bitmap 负责图片的读写与显示缩放：统一成 NRGBA、EXIF 方向摆正、
// 预览缩略图和按缩放倍率的最近邻渲染。
package bitmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chaos-io/nobg/util"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions 支持读取的扩展名（小写）
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

var ErrNilImage = errors.New("nil image")

// MaxZoomedPixels 缩放渲染输出的像素上限，约 128 MiB 的 NRGBA
const MaxZoomedPixels = 32 << 20

var ErrTooLarge = errors.New("zoomed image too large")

// IsSupported 按扩展名判断文件是否可读，不区分大小写
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load 读取图片文件：EXIF 方向摆正并转为 NRGBA
func Load(path string) (*image.NRGBA, error) {
	img, err := util.OpenImage(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA 转为原点在 (0,0) 的 NRGBA；已经是的话原样返回
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Clone 深拷贝，交给编辑工具的图片都要先拷贝
func Clone(img image.Image) *image.NRGBA {
	if img == nil {
		return nil
	}
	return imaging.Clone(img)
}

// SavePNG 以 PNG（无损、带 alpha）写出，必要时创建目录
func SavePNG(path string, img image.Image) error {
	if img == nil {
		return ErrNilImage
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// EncodePNG 编码为 PNG 字节
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeImage 解码任意已注册格式的字节并转为 NRGBA
func DecodeImage(data []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return ToNRGBA(img), nil
}

// Preview 生成不超过 maxW x maxH 的预览图（Lanczos3，只缩小不放大）。
// 空图或非法尺寸返回 1x1 全透明图。
func Preview(img image.Image, maxW, maxH int) image.Image {
	if img == nil {
		return image.NewNRGBA(image.Rect(0, 0, 1, 1))
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 || maxW <= 0 || maxH <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 1, 1))
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1.0 {
		return img
	}
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))
	return resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
}

// Zoomed 按倍率最近邻缩放，供编辑画布显示。输出超过 MaxZoomedPixels 时返回 ErrTooLarge。
func Zoomed(img image.Image, zoom float64) (*image.NRGBA, error) {
	b := img.Bounds()
	fw := float64(b.Dx()) * zoom
	fh := float64(b.Dy()) * zoom
	if fw*fh > MaxZoomedPixels {
		return nil, fmt.Errorf("%w: %.0fx%.0f at zoom %g", ErrTooLarge, fw, fh, zoom)
	}
	w, h := int(fw), int(fh)
	if w < 1 || h < 1 {
		return image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, nil
}

// ListImages 列出目录下受支持的图片文件名（不含子目录），按名称排序
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
