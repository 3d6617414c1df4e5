package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"MagicChat/module/chat/service"
	"MagicChat/tools/errs"
)

// gin context key,后续 handler 统一用它读调用方身份
const CtxCallerKey = "caller"

// Claims 网关签发的身份载荷
type Claims struct {
	UserID           string `json:"user_id"`
	OrganizationCode string `json:"organization_code"`
	MagicEnvID       string `json:"magic_env_id"`
	IsAgent          bool   `json:"is_agent"`
	jwt.RegisteredClaims
}

type Options struct {
	Secret                    []byte
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		Secret:                    secret,
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
	}
}

// Middleware 解出 Caller 写进 context,解不出直接 401.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "authorization"
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer {
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[len("bearer "):])
			}
		}
		if token == "" {
			abortDenied(c, "missing token")
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errs.New("unexpected signing method", "alg", t.Header["alg"])
			}
			return opts.Secret, nil
		})
		if err != nil || !parsed.Valid || claims.UserID == "" || claims.OrganizationCode == "" {
			abortDenied(c, "invalid token")
			return
		}

		c.Set(CtxCallerKey, service.Caller{
			UserID:           claims.UserID,
			OrganizationCode: claims.OrganizationCode,
			MagicEnvID:       claims.MagicEnvID,
			IsAgent:          claims.IsAgent,
		})
		c.Next()
	}
}

// CallerFrom handler 侧取身份
func CallerFrom(c *gin.Context) (service.Caller, bool) {
	v, ok := c.Get(CtxCallerKey)
	if !ok {
		return service.Caller{}, false
	}
	caller, ok := v.(service.Caller)
	return caller, ok
}

func abortDenied(c *gin.Context, detail string) {
	e := errs.ErrAuthorizationDenied.WithDetail(detail)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    e.ECode(),
		"message": e.EMsg(),
		"detail":  e.DDetail(),
	})
}
