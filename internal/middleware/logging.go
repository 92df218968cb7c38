package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"datavault-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 是请求/响应体写入日志的最大字节数。
const maxLoggedBody = 4 << 10

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 把响应同时写入 gin.ResponseWriter 和内部 buffer，buffer 只保留前 maxLoggedBody 字节。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 只有 JSON 请求体会被缓存和记录，分片上传和下载的二进制内容不会进入日志。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if c.Request.Body != nil && isJSON(c.ContentType()) {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			if len(requestBody) > maxLoggedBody {
				// 超长的 JSON 请求体只记录前缀，剩余部分原样交给处理函数
				c.Request.Body = readCloser{io.MultiReader(bytes.NewReader(requestBody), c.Request.Body), c.Request.Body}
				requestBody = requestBody[:maxLoggedBody]
			} else {
				c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
			}
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		responseBody := ""
		if isJSON(blw.Header().Get("Content-Type")) {
			responseBody = blw.body.String()
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", string(requestBody),
			"responseBody", responseBody,
		)
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
