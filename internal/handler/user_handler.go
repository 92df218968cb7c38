package handler

import (
	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理与当前登录用户相关的 API 请求。
type UserHandler struct{}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// GetProfile 返回当前用户（包含其树下所有文件的总大小）。
func (h *UserHandler) GetProfile(c *gin.Context) {
	ok(c, currentUser(c))
}
