package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/util"
	nhttp "github.com/chaos-io/nobg/util/http"
	"go.uber.org/zap"
)

const removePath = "api/remove"

// ServerBackend 调用 `rembg s` 启动的 HTTP 服务。模型会话在服务端，
// Open 只在开启 Warmup 时发一张 1x1 图片，让服务端把模型加载好。
type ServerBackend struct {
	baseURL string
	timeout time.Duration
	warmup  bool
	cli     nhttp.IClient

	mu     sync.Mutex
	opened map[string]bool
}

type ServerOption func(*ServerBackend)

func WithWarmup(on bool) ServerOption {
	return func(b *ServerBackend) { b.warmup = on }
}

func WithTimeout(d time.Duration) ServerOption {
	return func(b *ServerBackend) { b.timeout = d }
}

func WithClient(cli nhttp.IClient) ServerOption {
	return func(b *ServerBackend) { b.cli = cli }
}

func NewServerBackend(baseURL string, opts ...ServerOption) *ServerBackend {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	b := &ServerBackend{
		baseURL: baseURL,
		opened:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cli == nil {
		b.cli = nhttp.NewHTTPClientWithTimeout(b.timeout)
	}
	return b
}

func (b *ServerBackend) Open(ctx context.Context, model string) error {
	if !b.warmup {
		return nil
	}
	b.mu.Lock()
	done := b.opened[model]
	b.mu.Unlock()
	if done {
		return nil
	}

	probe, err := bitmap.EncodePNG(image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil {
		return err
	}
	if _, err := b.Remove(ctx, model, probe, Options{}); err != nil {
		return fmt.Errorf("warm up: %w", err)
	}

	b.mu.Lock()
	b.opened[model] = true
	b.mu.Unlock()
	return nil
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.png" \
	  -F "model=isnet-general-use" \
	  -F "a=true" -F "af=250" -F "ab=10" -F "ae=5" \
	  -o out.png
*/
func (b *ServerBackend) Remove(ctx context.Context, model string, png []byte, opts Options) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}

	fields := [][2]string{
		{"model", model},
		{"a", strconv.FormatBool(opts.AlphaMatting)},
		{"af", strconv.Itoa(opts.ForegroundThreshold)},
		{"ab", strconv.Itoa(opts.BackgroundThreshold)},
		{"ae", strconv.Itoa(opts.ErodeSize)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + removePath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
		Timeout:    b.timeout,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("rembg %s: %w", model, err)
	}

	util.Logger.Debug("rembg response",
		zap.String("model", model),
		zap.Int("status", reqParam.StatusCode),
		zap.Int("bytes", len(out)))

	return out, nil
}
