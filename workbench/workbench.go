// Package workbench 保存一次编辑会话的全部状态：当前图片、处理结果、
// 参数与模型，并把长操作交给 task.Runner。
package workbench

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chaos-io/nobg/batch"
	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/util"
	"go.uber.org/zap"
)

var (
	ErrNoImage  = errors.New("no image loaded")
	ErrNoResult = errors.New("no processed result")
	ErrNoEraser = errors.New("no eraser session")
)

type Kind string

const (
	KindOriginal Kind = "original"
	KindResult   Kind = "result"
	// KindEraser 擦除会话中尚未保存的工作图
	KindEraser Kind = "eraser"
)

type Config struct {
	Model    string
	Settings rembg.Options
	// MassCropDir 批量裁剪的输出子目录名
	MassCropDir string
	// Cache 为 nil 时不缓存
	Cache rembg.ResultCache
}

type Workbench struct {
	adapter *rembg.Adapter
	runner  *task.Runner
	cache   rembg.ResultCache
	cropDir string

	mu        sync.RWMutex
	input     *image.NRGBA
	inputPath string
	result    *image.NRGBA
	settings  rembg.Options
	model     string
	view      editor.Zoom
	eraser    *editor.Eraser
}

func New(adapter *rembg.Adapter, runner *task.Runner, cfg Config) *Workbench {
	if cfg.Model == "" {
		cfg.Model = rembg.DefaultModel
	}
	if cfg.MassCropDir == "" {
		cfg.MassCropDir = "crop_output"
	}
	return &Workbench{
		adapter:  adapter,
		runner:   runner,
		cache:    cfg.Cache,
		cropDir:  cfg.MassCropDir,
		settings: cfg.Settings.Clamp(),
		model:    cfg.Model,
		view:     1,
	}
}

// Status 会话概况
type Status struct {
	Busy      bool          `json:"busy"`
	Model     string        `json:"model"`
	Settings  rembg.Options `json:"settings"`
	ImagePath string        `json:"image_path,omitempty"`
	ImageSize *image.Point  `json:"image_size,omitempty"`
	HasResult bool          `json:"has_result"`
	Zoom      float64       `json:"zoom"`
	// EraserRadius 擦除会话打开时才有
	EraserRadius int `json:"eraser_radius,omitempty"`
	Task      *task.Info    `json:"task,omitempty"`
}

func (w *Workbench) Status() Status {
	w.mu.RLock()
	s := Status{
		Model:     w.model,
		Settings:  w.settings,
		ImagePath: w.inputPath,
		HasResult: w.result != nil,
		Zoom:      float64(w.view),
	}
	if w.eraser != nil {
		s.EraserRadius = w.eraser.Radius()
	}
	if w.input != nil {
		size := w.input.Bounds().Size()
		s.ImageSize = &size
	}
	w.mu.RUnlock()

	s.Busy = w.runner.Busy()
	if t := w.runner.Active(); t != nil {
		info := t.Info()
		s.Task = &info
	}
	return s
}

func (w *Workbench) Settings() rembg.Options {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

func (w *Workbench) UpdateSettings(opts rembg.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.settings = opts
	w.mu.Unlock()
	return nil
}

func (w *Workbench) Model() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.model
}

// SetModel 切换模型，只有名字变化时才重建会话
func (w *Workbench) SetModel(ctx context.Context, name string) error {
	if w.runner.Busy() {
		return task.ErrBusy
	}
	switched, err := w.adapter.SwitchModel(ctx, name)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.model = name
	w.mu.Unlock()
	if switched {
		util.Logger.Info("model switched", zap.String("model", name))
	}
	return nil
}

// RestoreDefaults 四个参数和模型都恢复默认
func (w *Workbench) RestoreDefaults(ctx context.Context) error {
	if err := w.SetModel(ctx, rembg.DefaultModel); err != nil {
		return err
	}
	w.mu.Lock()
	w.settings = rembg.DefaultOptions()
	w.mu.Unlock()
	return nil
}

// OpenImage 打开本地文件或 http(s) 地址
func (w *Workbench) OpenImage(ctx context.Context, path string) error {
	if w.runner.Busy() {
		return task.ErrBusy
	}
	if path == "" {
		return errors.New("empty path")
	}

	var (
		img *image.NRGBA
		err error
	)
	if isURL(path) {
		var raw image.Image
		if raw, err = util.DownloadImage(ctx, path); err == nil {
			img = bitmap.ToNRGBA(raw)
		}
	} else {
		img, err = bitmap.Load(path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	w.mu.Lock()
	w.input = img
	w.inputPath = path
	w.result = nil
	w.dropEraserLocked()
	w.mu.Unlock()

	util.Logger.Info("image opened",
		zap.String("path", path),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return nil
}

// Image 返回指定图片的副本
func (w *Workbench) Image(kind Kind) (*image.NRGBA, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	switch kind {
	case KindOriginal, "":
		if w.input == nil {
			return nil, ErrNoImage
		}
		return bitmap.Clone(w.input), nil
	case KindResult:
		if w.result == nil {
			return nil, ErrNoResult
		}
		return bitmap.Clone(w.result), nil
	case KindEraser:
		if w.eraser == nil {
			return nil, ErrNoEraser
		}
		return w.eraser.Snapshot(), nil
	default:
		return nil, fmt.Errorf("unknown image kind %q", kind)
	}
}

// ProcessImage 在后台对当前图片去背景，成功后结果成为当前结果
func (w *Workbench) ProcessImage(ctx context.Context) (*task.Task, error) {
	w.mu.RLock()
	input := bitmap.Clone(w.input)
	opts := w.settings
	model := w.model
	w.mu.RUnlock()

	if input == nil {
		return nil, ErrNoImage
	}
	if w.runner.Busy() {
		return nil, task.ErrBusy
	}

	session := w.adapter.Session()
	if session == nil || session.Model() != model {
		if _, err := w.adapter.SwitchModel(ctx, model); err != nil {
			return nil, err
		}
		session = w.adapter.Session()
	}
	proc := w.processor(session)

	return w.runner.Start("process", func(ctx context.Context, t *task.Task) (any, error) {
		t.OnProgress(batch.Progress{Total: 1, Status: fmt.Sprintf("Processing (%s)", model)})
		out, err := proc.Process(ctx, input, opts)
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		w.result = out
		w.dropEraserLocked()
		w.mu.Unlock()

		t.OnProgress(batch.Progress{Fraction: 1, Index: 1, Total: 1, Status: fmt.Sprintf("Done (%s)", model)})
		size := out.Bounds().Size()
		return map[string]any{"model": model, "width": size.X, "height": size.Y}, nil
	})
}

func (w *Workbench) processor(session *rembg.Session) rembg.Processor {
	if w.cache == nil {
		return session
	}
	return rembg.NewCached(session, w.cache)
}

// editable 编辑工具作用在结果上（如果有），否则作用在原图上
func (w *Workbench) editable() (*image.NRGBA, error) {
	if w.runner.Busy() {
		return nil, task.ErrBusy
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.result != nil {
		return bitmap.Clone(w.result), nil
	}
	if w.input != nil {
		return bitmap.Clone(w.input), nil
	}
	return nil, ErrNoImage
}

// commit 编辑结果替换原图并清空处理结果
func (w *Workbench) commit(img *image.NRGBA) {
	w.mu.Lock()
	w.input = img
	w.result = nil
	w.dropEraserLocked()
	w.mu.Unlock()
}

// Crop 显示坐标下的选框，按 zoom 换算后裁剪
func (w *Workbench) Crop(start, end image.Point, zoom editor.Zoom) (editor.Rect, error) {
	src, err := w.editable()
	if err != nil {
		return editor.Rect{}, err
	}
	r, err := editor.SelectionFromDisplay(start, end, zoom)
	if err != nil {
		return editor.Rect{}, err
	}
	out, err := editor.Crop(src, r)
	if err != nil {
		return editor.Rect{}, err
	}
	w.commit(out)
	util.Logger.Info("image cropped", zap.Stringer("rect", r))
	return r, nil
}

// Save 保存结果（没有结果时保存原图）。path 为空时存为 <stem>_edited.png，返回实际路径。
func (w *Workbench) Save(path string) (string, error) {
	w.mu.RLock()
	img := w.result
	if img == nil {
		img = w.input
	}
	inputPath := w.inputPath
	w.mu.RUnlock()

	if img == nil {
		return "", ErrNoImage
	}
	if path == "" {
		path = DefaultSavePath(inputPath)
	}
	if err := bitmap.SavePNG(path, img); err != nil {
		return "", err
	}
	util.Logger.Info("image saved", zap.String("path", path))
	return path, nil
}

// DefaultSavePath <dir>/<stem>_edited.png；URL 来源的图片存到当前目录
func DefaultSavePath(inputPath string) string {
	if isURL(inputPath) {
		name := filepath.Base(strings.SplitN(inputPath, "?", 2)[0])
		return stem(name) + "_edited.png"
	}
	dir, name := filepath.Split(inputPath)
	return filepath.Join(dir, stem(name)+"_edited.png")
}

// StartBatch 对 src 下所有图片去背景，输出到 dst。整批只建一个会话。
func (w *Workbench) StartBatch(src, dst string) (*task.Task, error) {
	opts := w.Settings()
	model := w.Model()

	// 前置检查失败时不启动任务
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := batch.CheckDirs(src, dst); err != nil {
		return nil, err
	}

	return w.runner.Start("batch", func(ctx context.Context, t *task.Task) (any, error) {
		session, err := w.adapter.NewSession(ctx, model)
		if err != nil {
			return nil, err
		}
		return batch.RemoveBackground(ctx, w.processor(session), batch.Job{
			SourceDir: src,
			DestDir:   dst,
			Observer:  t,
		}, opts)
	})
}

// StartMassCrop 在模板图上选框，把同一个框应用到 src 下所有图片，输出到 <src>/<MassCropDir>
func (w *Workbench) StartMassCrop(src, modelImage string, start, end image.Point, zoom editor.Zoom) (*task.Task, error) {
	if _, err := bitmap.Load(modelImage); err != nil {
		return nil, fmt.Errorf("model image: %w", err)
	}
	r, err := editor.SelectionFromDisplay(start, end, zoom)
	if err != nil {
		return nil, err
	}
	return w.StartMassCropRect(src, r)
}

func (w *Workbench) StartMassCropRect(src string, r editor.Rect) (*task.Task, error) {
	r = r.Normalize()
	if r.Empty() {
		return nil, editor.ErrEmptySelection
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dst := filepath.Join(src, w.cropDir)

	return w.runner.Start("mass-crop", func(ctx context.Context, t *task.Task) (any, error) {
		return batch.MassCrop(ctx, batch.Job{
			SourceDir: src,
			DestDir:   dst,
			Observer:  t,
		}, r)
	})
}

func (w *Workbench) Task(id string) (*task.Task, error) {
	return w.runner.Get(id)
}

func (w *Workbench) Busy() bool {
	return w.runner.Busy()
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
