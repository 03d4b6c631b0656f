package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/oauth-gateway/pkg/token"
)

const (
	// contextKeyUserID はGinコンテキストに認証済みユーザーIDを格納するキー。
	contextKeyUserID = "user_id"
	// contextKeyClaims はGinコンテキストにアクセストークンのクレームを格納するキー。
	contextKeyClaims = "access_claims"
)

// AccessVerifier はアクセストークンを検証する。*token.Codecが実装する。
type AccessVerifier interface {
	VerifyAccess(tokenString string) (*token.AccessClaims, error)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーが無い、またはBearer形式でない場合はfalseを返す。
func BearerToken(c *gin.Context) (string, bool) {
	tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザーIDとクレームを設定する。
// 失敗理由はクライアントに区別させない。
func JWTAuth(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, err := verifier.VerifyAccess(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(contextKeyUserID, claims.Subject)
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetClaims はGinコンテキストからアクセストークンのクレームを取得する。
func GetClaims(c *gin.Context) (*token.AccessClaims, bool) {
	v, _ := c.Get(contextKeyClaims)
	claims, ok := v.(*token.AccessClaims)
	return claims, ok
}
