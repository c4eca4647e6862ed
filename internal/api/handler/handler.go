package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"

	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
	"github.com/d60-Lab/post-resolver/pkg/response"
)

// Handler 帖子接口：GraphQL 入口与 REST 镜像共用同一个解析器注册表
type Handler struct {
	registry *pipeline.Registry
	schema   graphql.Schema
}

func NewHandler(reg *pipeline.Registry) (*Handler, error) {
	schema, err := NewSchema(reg)
	if err != nil {
		return nil, err
	}
	return &Handler{registry: reg, schema: schema}, nil
}

// Health 健康检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// fail 把解析错误映射为统一响应
func fail(c *gin.Context, err error) {
	var perr *pipeline.Error
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, repository.ErrInvalidNextToken), errors.As(err, &perr):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
