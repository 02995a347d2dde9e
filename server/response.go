package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/chaos-io/nobg/batch"
	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/workbench"
	"github.com/gin-gonic/gin"
)

var (
	errInternal          = errors.New("internal server error")
	errInvalidSize       = errors.New("invalid preview size")
	errMissingModelImage = errors.New("model_image or rect is required")
)

// Response 成功响应
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// badRequest 请求本身不合法
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, Response{Success: true, Data: data})
}

func fail(c *gin.Context, err error) {
	code, msg := classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, ErrorResponse{
		Success: false,
		Message: msg,
		Error:   err.Error(),
	})
}

func classify(err error) (int, string) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "请求参数错误"
	case errors.Is(err, task.ErrBusy):
		return http.StatusConflict, "已有任务在运行"
	case errors.Is(err, workbench.ErrNoImage):
		return http.StatusConflict, "未加载图片"
	case errors.Is(err, workbench.ErrNoResult):
		return http.StatusConflict, "还没有处理结果"
	case errors.Is(err, workbench.ErrNoEraser):
		return http.StatusConflict, "没有打开的擦除会话"
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "任务不存在"
	case errors.Is(err, batch.ErrSameDirectory):
		return http.StatusBadRequest, "源目录和目标目录不能相同"
	case errors.Is(err, editor.ErrEmptySelection):
		return http.StatusBadRequest, "选区为空"
	case errors.Is(err, editor.ErrBadZoom):
		return http.StatusBadRequest, "缩放倍率超出范围"
	case errors.Is(err, bitmap.ErrTooLarge):
		return http.StatusBadRequest, "缩放后的图片过大"
	case errors.Is(err, rembg.ErrUnknownModel):
		return http.StatusBadRequest, "未知模型"
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusBadRequest, "文件或目录不存在"
	default:
		return http.StatusInternalServerError, "处理失败"
	}
}
