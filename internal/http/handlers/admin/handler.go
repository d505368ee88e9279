package admin

import (
	handlershared "github.com/dujiao-next/flashsale/internal/http/handlers/shared"
	"github.com/dujiao-next/flashsale/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 运营接口：券配置维护与补偿失败处理
type Handler struct {
	*provider.Container
}

func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

// parseQueryBool 解析布尔查询参数，缺省或无法识别时返回 fallback
func parseQueryBool(c *gin.Context, name string, fallback bool) bool {
	switch c.Query(name) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}
