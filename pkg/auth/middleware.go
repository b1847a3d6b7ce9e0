package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware middleware для проверки JWT токена
type AuthMiddleware struct {
	jwtManager *JWTManager
}

// NewAuthMiddleware создает новый middleware для проверки авторизации
func NewAuthMiddleware(jwtManager *JWTManager) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
	}
}

// AuthRequired middleware требует авторизации для доступа к endpoint
func (m *AuthMiddleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "отсутствует токен авторизации"})
			c.Abort()
			return
		}

		// Проверяем формат токена "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "неверный формат токена авторизации"})
			c.Abort()
			return
		}

		// Парсим и проверяем токен
		claims, err := m.jwtManager.ParseToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "недействительный токен: " + err.Error()})
			c.Abort()
			return
		}

		// Добавляем имя сервиса-вызывающего в контекст
		c.Set("service_name", claims.ServiceName)

		c.Next()
	}
}

func GetServiceName(c *gin.Context) string {
	serviceName, exists := c.Get("service_name")
	if !exists {
		return ""
	}
	return serviceName.(string)
}
