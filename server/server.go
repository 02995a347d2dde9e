package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chaos-io/nobg/util"
	"github.com/chaos-io/nobg/workbench"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BuildInfo 由 main 在编译时注入
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

// NewRouter 注册全部路由
func NewRouter(wb *workbench.Workbench, info BuildInfo) *gin.Engine {
	h := NewHandler(wb)

	r := gin.New()
	r.Use(Recovery())
	r.Use(Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
			"busy":    wb.Busy(),
		})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	api := r.Group("/api/v1")
	{
		api.GET("/status", h.Status)
		api.GET("/models", h.Models)
		api.PUT("/model", h.SetModel)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
		api.POST("/settings/defaults", h.RestoreDefaults)

		img := api.Group("/image")
		img.POST("", h.OpenImage)
		img.GET("/preview", h.Preview)
		img.POST("/process", h.Process)
		img.POST("/crop", h.Crop)
		img.POST("/erase", h.Erase)
		img.POST("/zoom", h.StepZoom)
		img.POST("/eraser", h.BeginErase)
		img.PUT("/eraser", h.SetEraserRadius)
		img.POST("/eraser/stroke", h.EraseStroke)
		img.POST("/eraser/save", h.SaveErase)
		img.DELETE("/eraser", h.CancelErase)
		img.POST("/save", h.Save)

		api.POST("/batch", h.StartBatch)
		api.POST("/mass-crop", h.StartMassCrop)

		api.GET("/tasks/:id", h.GetTask)
		api.DELETE("/tasks/:id", h.CancelTask)
	}

	return r
}

// Run 启动 HTTP 服务，ctx 结束时优雅退出
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.Logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	util.Logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
