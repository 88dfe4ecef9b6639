package web

import (
	"time"

	"github.com/gin-gonic/gin"

	"arbmesh/logger"
)

// ginLoggerMiddleware 自定义 Gin 日志中间件
// 正常请求走 DEBUG；错误请求 (状态码 >= 400) 走 WARN
func ginLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method

		if raw != "" {
			path = path + "?" + raw
		}

		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if statusCode >= 400 {
			if errorMessage != "" {
				logger.Warn("[GIN] %d | %v | %s | %-7s %s | Error: %s",
					statusCode, latency, clientIP, method, path, errorMessage)
			} else {
				logger.Warn("[GIN] %d | %v | %s | %-7s %s",
					statusCode, latency, clientIP, method, path)
			}
			return
		}

		logger.Debug("[GIN] %d | %v | %s | %-7s %s",
			statusCode, latency, clientIP, method, path)
	}
}
