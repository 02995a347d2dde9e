package server

import (
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/workbench"
	"github.com/gin-gonic/gin"
)

const (
	defaultPreviewW = 800
	defaultPreviewH = 600
)

type Handler struct {
	wb *workbench.Workbench
}

func NewHandler(wb *workbench.Workbench) *Handler {
	return &Handler{wb: wb}
}

type modelRequest struct {
	Model string `json:"model" binding:"required"`
}

type openRequest struct {
	// Path 本地路径或 http(s) 地址
	Path string `json:"path" binding:"required"`
}

type cropRequest struct {
	Start image.Point `json:"start"`
	End   image.Point `json:"end"`
	Zoom  float64     `json:"zoom"`
}

type eraseRequest struct {
	Points []image.Point `json:"points" binding:"required"`
	Radius int           `json:"radius"`
	Zoom   float64       `json:"zoom"`
}

type zoomRequest struct {
	Step workbench.ZoomStep `json:"step" binding:"required"`
}

type eraserRequest struct {
	Radius int `json:"radius"`
}

// strokeRequest Zoom 为 0 时使用当前画布倍率
type strokeRequest struct {
	Points []image.Point `json:"points" binding:"required"`
	Zoom   float64       `json:"zoom"`
}

type saveRequest struct {
	Path string `json:"path"`
}

type batchRequest struct {
	Source string `json:"source" binding:"required"`
	Dest   string `json:"dest" binding:"required"`
}

// massCropRequest 给出 Rect 时直接使用，否则用模板图上的显示坐标选框
type massCropRequest struct {
	Source     string       `json:"source" binding:"required"`
	ModelImage string       `json:"model_image"`
	Start      image.Point  `json:"start"`
	End        image.Point  `json:"end"`
	Zoom       float64      `json:"zoom"`
	Rect       *editor.Rect `json:"rect"`
}

// zoomOf 请求没有给倍率时用画布当前倍率
func (h *Handler) zoomOf(z float64) editor.Zoom {
	if z == 0 {
		return h.wb.Zoom()
	}
	return editor.Zoom(z)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, badRequest{err})
		return false
	}
	return true
}

// Status 会话状态
func (h *Handler) Status(c *gin.Context) {
	ok(c, http.StatusOK, h.wb.Status())
}

func (h *Handler) Models(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"models":  rembg.Models,
		"default": rembg.DefaultModel,
		"current": h.wb.Model(),
	})
}

func (h *Handler) GetSettings(c *gin.Context) {
	ok(c, http.StatusOK, h.wb.Settings())
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	opts := h.wb.Settings()
	if !bind(c, &opts) {
		return
	}
	if err := h.wb.UpdateSettings(opts); err != nil {
		fail(c, badRequest{err})
		return
	}
	ok(c, http.StatusOK, h.wb.Settings())
}

// RestoreDefaults 参数和模型恢复默认
func (h *Handler) RestoreDefaults(c *gin.Context) {
	if err := h.wb.RestoreDefaults(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"model": h.wb.Model(), "settings": h.wb.Settings()})
}

func (h *Handler) SetModel(c *gin.Context) {
	var req modelRequest
	if !bind(c, &req) {
		return
	}
	if err := h.wb.SetModel(c.Request.Context(), req.Model); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"model": h.wb.Model()})
}

func (h *Handler) OpenImage(c *gin.Context) {
	var req openRequest
	if !bind(c, &req) {
		return
	}
	if err := h.wb.OpenImage(c.Request.Context(), req.Path); err != nil {
		if !errors.Is(err, task.ErrBusy) {
			err = badRequest{err}
		}
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, h.wb.Status())
}

// Preview 返回 PNG。传 zoom 时按倍率最近邻缩放，否则缩小到 w x h 以内。
func (h *Handler) Preview(c *gin.Context) {
	img, err := h.wb.Image(workbench.Kind(c.DefaultQuery("kind", string(workbench.KindOriginal))))
	if err != nil {
		if !errors.Is(err, workbench.ErrNoImage) && !errors.Is(err, workbench.ErrNoResult) && !errors.Is(err, workbench.ErrNoEraser) {
			err = badRequest{err}
		}
		fail(c, err)
		return
	}

	var out image.Image
	if z := c.Query("zoom"); z != "" {
		zoom, err := strconv.ParseFloat(z, 64)
		if z == "view" {
			zoom, err = float64(h.wb.Zoom()), nil
		}
		if err != nil || !editor.Zoom(zoom).Valid() {
			fail(c, badRequest{editor.ErrBadZoom})
			return
		}
		if out, err = bitmap.Zoomed(img, zoom); err != nil {
			fail(c, err)
			return
		}
	} else {
		w, errW := strconv.Atoi(c.DefaultQuery("w", strconv.Itoa(defaultPreviewW)))
		hh, errH := strconv.Atoi(c.DefaultQuery("h", strconv.Itoa(defaultPreviewH)))
		if errW != nil || errH != nil {
			fail(c, badRequest{errInvalidSize})
			return
		}
		out = bitmap.Preview(img, w, hh)
	}

	data, err := bitmap.EncodePNG(out)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Handler) Process(c *gin.Context) {
	t, err := h.wb.ProcessImage(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, t.Info())
}

func (h *Handler) Crop(c *gin.Context) {
	var req cropRequest
	if !bind(c, &req) {
		return
	}
	r, err := h.wb.Crop(req.Start, req.End, h.zoomOf(req.Zoom))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"rect": r, "status": h.wb.Status()})
}

func (h *Handler) Erase(c *gin.Context) {
	var req eraseRequest
	if !bind(c, &req) {
		return
	}
	if req.Radius == 0 {
		req.Radius = editor.DefaultEraserRadius
	}
	if err := h.wb.Erase(req.Points, req.Radius, h.zoomOf(req.Zoom)); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, h.wb.Status())
}

// StepZoom 按钮或滚轮缩放画布
func (h *Handler) StepZoom(c *gin.Context) {
	var req zoomRequest
	if !bind(c, &req) {
		return
	}
	z, err := h.wb.StepZoom(req.Step)
	if err != nil {
		fail(c, badRequest{err})
		return
	}
	ok(c, http.StatusOK, gin.H{"zoom": float64(z)})
}

// BeginErase 打开擦除会话，body 可以为空
func (h *Handler) BeginErase(c *gin.Context) {
	req := eraserRequest{Radius: editor.DefaultEraserRadius}
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	radius, err := h.wb.BeginErase(req.Radius)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"radius": radius})
}

func (h *Handler) SetEraserRadius(c *gin.Context) {
	var req eraserRequest
	if !bind(c, &req) {
		return
	}
	radius, err := h.wb.SetEraserRadius(req.Radius)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"radius": radius})
}

func (h *Handler) EraseStroke(c *gin.Context) {
	var req strokeRequest
	if !bind(c, &req) {
		return
	}
	if err := h.wb.EraseStroke(req.Points, editor.Zoom(req.Zoom)); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (h *Handler) SaveErase(c *gin.Context) {
	if err := h.wb.SaveErase(); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, h.wb.Status())
}

func (h *Handler) CancelErase(c *gin.Context) {
	if err := h.wb.CancelErase(); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, h.wb.Status())
}

func (h *Handler) Save(c *gin.Context) {
	var req saveRequest
	// body 可以为空
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	path, err := h.wb.Save(req.Path)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"path": path})
}

func (h *Handler) StartBatch(c *gin.Context) {
	var req batchRequest
	if !bind(c, &req) {
		return
	}
	t, err := h.wb.StartBatch(req.Source, req.Dest)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, t.Info())
}

func (h *Handler) StartMassCrop(c *gin.Context) {
	var req massCropRequest
	if !bind(c, &req) {
		return
	}

	var (
		t   *task.Task
		err error
	)
	if req.Rect != nil {
		t, err = h.wb.StartMassCropRect(req.Source, *req.Rect)
	} else {
		if req.ModelImage == "" {
			fail(c, badRequest{errMissingModelImage})
			return
		}
		t, err = h.wb.StartMassCrop(req.Source, req.ModelImage, req.Start, req.End, h.zoomOf(req.Zoom))
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, t.Info())
}

func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.wb.Task(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t.Info())
}

// CancelTask 取消任务，批处理在文件之间响应
func (h *Handler) CancelTask(c *gin.Context) {
	t, err := h.wb.Task(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	t.Cancel()
	ok(c, http.StatusAccepted, t.Info())
}
