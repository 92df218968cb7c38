// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/middleware"
	"datavault-go/internal/model"
	"datavault-go/internal/service"
	"datavault-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message})
}

// statusFor 把错误类型映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, assetstore.ErrNoCurrent), errors.Is(err, assetstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.NotSupported), errors.Is(err, errors.NotImplemented):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// fail 按错误类型返回响应。偏移不一致时额外返回服务端的偏移，客户端据此续传。
func fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	body := gin.H{"code": status, "message": err.Error()}

	var mismatch *service.OffsetMismatchError
	if errors.As(err, &mismatch) {
		body["offset"] = mismatch.Received
	}
	if status == http.StatusInternalServerError {
		log.Errorf("[%s] 请求处理失败, path: %s, error: %v", op, c.Request.URL.Path, err)
		body["message"] = "服务器内部错误"
	} else {
		log.Warnf("[%s] 请求被拒绝, path: %s, status: %d, error: %v", op, c.Request.URL.Path, status, err)
	}
	c.JSON(status, body)
}

func userID(user *model.User) *string {
	if user == nil {
		return nil
	}
	id := user.ID
	return &id
}

func currentUser(c *gin.Context) *model.User {
	return middleware.CurrentUser(c)
}

// queryInt64 读取整数查询参数，缺省时返回 def。
func queryInt64(c *gin.Context, key string, def int64) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("query parameter %s=%q", key, v)
	}
	return n, nil
}
