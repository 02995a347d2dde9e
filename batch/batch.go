// Package batch 逐个处理目录中的图片：去背景或按同一个框裁剪。
// 单个文件失败只记录，不中断整批。
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/util"
	"go.uber.org/zap"
)

var (
	ErrSameDirectory = errors.New("source and destination directory are the same")
	// ErrOutputExists 两个输入映射到同一个输出名，例如 a.png 和 a.jpg
	ErrOutputExists = errors.New("output name already used in this batch")
)

// Progress 每处理一个文件发一次
type Progress struct {
	Fraction float64 `json:"fraction"`
	Index    int     `json:"index"`
	Total    int     `json:"total"`
	File     string  `json:"file"`
	Status   string  `json:"status"`
}

type Observer interface {
	OnProgress(p Progress)
}

type ObserverFunc func(p Progress)

func (f ObserverFunc) OnProgress(p Progress) { f(p) }

type Job struct {
	SourceDir string
	DestDir   string
	// Files 为 nil 时列出 SourceDir 下支持的图片；空切片表示没有文件
	Files    []string
	Observer Observer
}

type FileError struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("'%s': %v", e.Name, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

type Result struct {
	Processed int
	Total     int
	Errors    []FileError
}

// Messages 错误列表的文本形式
func (r *Result) Messages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Processed int      `json:"processed"`
		Total     int      `json:"total"`
		Errors    []string `json:"errors"`
	}{r.Processed, r.Total, r.Messages()})
}

func (r *Result) String() string {
	return fmt.Sprintf("%d/%d processed, %d error(s)", r.Processed, r.Total, len(r.Errors))
}

// step 处理单个文件 src，结果写到 dst
type step func(ctx context.Context, src, dst string) error

// RemoveBackground 用同一个会话处理所有文件，输出 <stem>_<model>_no-bg.png
func RemoveBackground(ctx context.Context, proc rembg.Processor, job Job, opts rembg.Options) (*Result, error) {
	if proc == nil {
		return nil, errors.New("nil processor")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	model := proc.Model()

	return run(ctx, job,
		func(i, total int, name string) string {
			return fmt.Sprintf("Batch (%s) %d/%d: %s", model, i, total, name)
		},
		func(name string) string {
			return stem(name) + "_" + model + "_no-bg.png"
		},
		func(ctx context.Context, src, dst string) error {
			img, err := bitmap.Load(src)
			if err != nil {
				return err
			}
			out, err := proc.Process(ctx, img, opts)
			if err != nil {
				return err
			}
			return bitmap.SavePNG(dst, out)
		})
}

// MassCrop 把同一个原图坐标下的框应用到每个文件，输出 <stem>-cropped.png
func MassCrop(ctx context.Context, job Job, r editor.Rect) (*Result, error) {
	r = r.Normalize()
	if r.Empty() {
		return nil, editor.ErrEmptySelection
	}

	return run(ctx, job,
		func(i, total int, name string) string {
			return fmt.Sprintf("Mass crop %d/%d: %s", i, total, name)
		},
		func(name string) string {
			return stem(name) + "-cropped.png"
		},
		func(_ context.Context, src, dst string) error {
			img, err := bitmap.Load(src)
			if err != nil {
				return err
			}
			out, err := editor.Crop(img, r)
			if err != nil {
				return err
			}
			return bitmap.SavePNG(dst, out)
		})
}

func run(ctx context.Context, job Job, status func(i, total int, name string) string, output func(name string) string, do step) (*Result, error) {
	if err := CheckDirs(job.SourceDir, job.DestDir); err != nil {
		return nil, err
	}

	files := job.Files
	if files == nil {
		var err error
		if files, err = bitmap.ListImages(job.SourceDir); err != nil {
			return nil, err
		}
	}

	result := &Result{Total: len(files)}
	if result.Total == 0 {
		return result, nil
	}
	if err := os.MkdirAll(job.DestDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	defer util.Trace(fmt.Sprintf("batch %s (%d files)", job.SourceDir, result.Total))()

	// 输出名 -> 先占用它的输入文件
	outputs := make(map[string]string, len(files))

	var canceled error
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			canceled = err
			// 未处理的文件全部记为取消，保证 Processed+len(Errors)==Total
			for _, rest := range files[i:] {
				result.Errors = append(result.Errors, FileError{Name: rest, Err: err})
			}
			util.Logger.Warn("batch canceled",
				zap.String("source", job.SourceDir),
				zap.Int("processed", result.Processed),
				zap.Int("skipped", len(files)-i))
			break
		}

		if job.Observer != nil {
			job.Observer.OnProgress(Progress{
				Fraction: float64(i+1) / float64(result.Total),
				Index:    i + 1,
				Total:    result.Total,
				File:     name,
				Status:   status(i+1, result.Total, name),
			})
		}

		out := output(name)
		if prev, ok := outputs[strings.ToLower(out)]; ok {
			err := fmt.Errorf("%w: %s (from '%s')", ErrOutputExists, out, prev)
			util.Logger.Warn("output name collision", zap.String("file", name), zap.String("output", out))
			result.Errors = append(result.Errors, FileError{Name: name, Err: err})
			continue
		}
		outputs[strings.ToLower(out)] = name

		src := filepath.Join(job.SourceDir, name)
		dst := filepath.Join(job.DestDir, out)
		start := time.Now()
		if err := do(ctx, src, dst); err != nil {
			util.Logger.Warn("failed to process file", zap.String("file", name), zap.Error(err))
			result.Errors = append(result.Errors, FileError{Name: name, Err: err})
			continue
		}
		result.Processed++
		util.Logger.Debug("file processed",
			zap.String("file", name),
			zap.String("output", dst),
			zap.Duration("cost", time.Since(start)))
	}

	util.Logger.Info("batch finished",
		zap.String("source", job.SourceDir),
		zap.String("dest", job.DestDir),
		zap.Int("processed", result.Processed),
		zap.Int("total", result.Total),
		zap.Int("errors", len(result.Errors)))

	// 取消时结果照常返回，同时带上取消原因
	return result, canceled
}

// CheckDirs 源目录和目标目录必须都给出且不是同一个目录
func CheckDirs(src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("source and destination directory are required")
	}
	if samePath(src, dst) {
		return ErrSameDirectory
	}
	return nil
}

func samePath(a, b string) bool {
	return resolve(a) == resolve(b)
}

func resolve(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	return filepath.Clean(p)
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
