package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const contextUserIDKey = "authenticatedUserID"

// bearerAuth validates HS256 bearer tokens and stashes the subject claim
// on the request context for the handlers downstream.
func bearerAuth(signingKey string, issuer string) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		header := requestContext.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse("unauthorized", "missing bearer token"))
			return
		}
		rawToken := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(rawToken, &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(signingKey), nil
		}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse("unauthorized", "token subject is empty"))
			return
		}

		requestContext.Set(contextUserIDKey, claims.Subject)
		requestContext.Next()
	}
}

func authenticatedUserID(requestContext *gin.Context) string {
	value, exists := requestContext.Get(contextUserIDKey)
	if !exists {
		return ""
	}
	userID, _ := value.(string)
	return userID
}
