package shared

import (
	"strconv"
	"strings"

	"github.com/dujiao-next/flashsale/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ParseUintParam 解析路径中的正整数 ID，失败时直接写入错误响应。
func ParseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		RespondError(c, response.CodeBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return uint(value), true
}

// BindJSON 绑定请求体，失败时直接写入错误响应。
func BindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		RespondError(c, response.CodeBadRequest, "invalid request body", err)
		return false
	}
	return true
}
