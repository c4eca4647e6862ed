package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/service"
	"github.com/d60-Lab/post-resolver/pkg/response"
)

// CreatePost 发帖：需要登录，owner/type/timestamp/id 由服务端生成
// @Summary 创建帖子
// @Tags 帖子
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body map[string]interface{} true "帖子内容（任意字段）"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	out, err := h.registry.Resolve(ctx, service.TypeMutation, service.FieldCreatePost,
		map[string]any{"input": input}, identity.FromContext(ctx))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, out)
}

// GetPost 按 id 查询，不存在时 data 为 null
// @Summary 查询帖子
// @Tags 帖子
// @Produce json
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 500 {object} response.Response
// @Router /api/v1/posts/{id} [get]
func (h *Handler) GetPost(c *gin.Context) {
	ctx := c.Request.Context()
	out, err := h.registry.Resolve(ctx, service.TypeQuery, service.FieldGetPost,
		map[string]any{"id": c.Param("id")}, identity.FromContext(ctx))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, out)
}

// ListPosts 全局时间线或指定作者的帖子，按时间排序分页
// @Summary 帖子列表
// @Tags 帖子
// @Produce json
// @Param owner query string false "作者"
// @Param limit query int false "每页数量" default(20)
// @Param sort_direction query string false "排序" Enums(ASC, DESC)
// @Param next_token query string false "续传标记"
// @Success 200 {object} response.Response{data=repository.QueryResult}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/posts [get]
func (h *Handler) ListPosts(c *gin.Context) {
	args := map[string]any{
		"owner":         c.Query("owner"),
		"sortDirection": c.Query("sort_direction"),
		"nextToken":     c.Query("next_token"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		args["limit"] = limit
	}
	ctx := c.Request.Context()
	out, err := h.registry.Resolve(ctx, service.TypeQuery, service.FieldListPosts, args, identity.FromContext(ctx))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, out)
}
