package public

import (
	handlershared "github.com/dujiao-next/flashsale/internal/http/handlers/shared"
	"github.com/dujiao-next/flashsale/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 用户侧接口：领券、购物车、下单与 Saga 查询
// 本服务不做鉴权，user_id 由网关透传到请求中。
type Handler struct {
	*provider.Container
}

func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	return handlershared.ParseUintParam(c, name)
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	return handlershared.BindJSON(c, dest)
}
