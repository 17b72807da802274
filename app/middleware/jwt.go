package middleware

import (
	"net/http"
	"strings"

	"photo-fusion/app/auth"
	"photo-fusion/app/config"

	"github.com/gin-gonic/gin"
)

// JWTAuth 认证中间件：校验 Bearer 令牌并把用户身份放进请求上下文
func JWTAuth(cfg *config.Config) gin.HandlerFunc {
	jwtService := auth.NewJWTService(cfg)

	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "缺少 Bearer 令牌")
			return
		}

		claims, err := jwtService.ValidateToken(raw)
		if err != nil {
			abortUnauthorized(c, "令牌校验失败")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
}
