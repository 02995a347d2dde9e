package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/util"
	"go.uber.org/zap"
)

var ErrUnknownModel = errors.New("unknown model")

// Processor 去除背景：输入位图和参数，返回背景透明的新位图
type Processor interface {
	Model() string
	Process(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error)
}

// Backend 是真正跑模型的一端
type Backend interface {
	// Open 为 model 准备推理会话
	Open(ctx context.Context, model string) error
	// Remove 输入 PNG 字节，返回 PNG 字节
	Remove(ctx context.Context, model string, png []byte, opts Options) ([]byte, error)
}

// Session 绑定一个模型。创建代价高，批处理整轮只建一次。
type Session struct {
	model   string
	backend Backend
}

func NewSession(ctx context.Context, backend Backend, model string) (*Session, error) {
	if !IsKnownModel(model) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	if err := backend.Open(ctx, model); err != nil {
		return nil, fmt.Errorf("open session %s: %w", model, err)
	}
	util.Logger.Info("rembg session created", zap.String("model", model))
	return &Session{model: model, backend: backend}, nil
}

func (s *Session) Model() string { return s.model }

func (s *Session) Process(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	if img == nil {
		return nil, bitmap.ErrNilImage
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	input, err := bitmap.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	output, err := s.backend.Remove(ctx, s.model, input, opts)
	if err != nil {
		return nil, err
	}

	result, err := bitmap.DecodeImage(output)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", s.model, err)
	}
	return result, nil
}

// Adapter 持有当前会话；切换模型时重建会话
type Adapter struct {
	mu      sync.Mutex
	backend Backend
	session *Session
}

func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// NewSession 为一次批处理单独建会话，不影响当前会话
func (a *Adapter) NewSession(ctx context.Context, model string) (*Session, error) {
	return NewSession(ctx, a.backend, model)
}

// Session 返回当前会话，可能为 nil
func (a *Adapter) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// SwitchModel 模型变化时才重建会话，返回是否发生了切换。失败时保留旧会话。
func (a *Adapter) SwitchModel(ctx context.Context, model string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil && a.session.model == model {
		return false, nil
	}
	s, err := NewSession(ctx, a.backend, model)
	if err != nil {
		return false, err
	}
	a.session = s
	return true, nil
}
