// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"datavault-go/internal/model"
	"datavault-go/pkg/log"
	"datavault-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// UserKey 是当前用户在 gin.Context 中的键。
const UserKey = "user"

// UserLookup 根据 token 中的用户 ID 加载完整的用户。
type UserLookup interface {
	User(ctx context.Context, id string) (*model.User, error)
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 没有 Authorization 头的请求以匿名身份继续；带了头但无效时直接返回 401。
// 成功时把完整的 *model.User 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}
		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		// 用户可能在 token 签发后被删除
		user, err := users.User(c.Request.Context(), claims.UserID)
		if err != nil {
			log.Warnf("[AuthMiddleware] 加载用户失败, user_id: %s, error: %v", claims.UserID, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在"})
			return
		}

		c.Set(UserKey, user)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireUser 拒绝匿名请求，必须在 AuthMiddleware 之后使用。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}
		c.Next()
	}
}

// CurrentUser 返回 AuthMiddleware 解析出的用户，匿名请求返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}
