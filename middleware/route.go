package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "MagicChat/middleware/security"
)

// RouteOpt 路由配置
type RouteOpt struct {
	IsAuth bool
	Auth   *midsec.Options
}

// POST 封装: 按需挂鉴权中间件
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.POST(path, handler)
	}
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(opt.Auth), handler)
	} else {
		r.GET(path, handler)
	}
}
