package server

import (
	"time"

	"github.com/chaos-io/nobg/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger Zap日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			util.Logger.Error("request", fields...)
		case status >= 400:
			util.Logger.Warn("request", fields...)
		default:
			util.Logger.Info("request", fields...)
		}
	}
}

// Recovery panic 时记日志并返回 500
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		util.Logger.Error("panic recovered",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered))
		fail(c, errInternal)
	})
}
