package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/model"
	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
	"github.com/d60-Lab/post-resolver/internal/service"
	"github.com/d60-Lab/post-resolver/pkg/logger"
	"github.com/d60-Lab/post-resolver/pkg/response"
)

var errInternal = errors.New("internal error")

type graphQLRequest struct {
	Query         string                 `json:"query" binding:"required"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// timestampScalar Unix 秒级时间戳。内置 Int 只到 int32，2038 年后会溢出
var timestampScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Timestamp",
	Description: "Unix 时间戳（秒），int64",
	Serialize:   coerceTimestamp,
	ParseValue:  coerceTimestamp,
	ParseLiteral: func(v ast.Value) interface{} {
		iv, ok := v.(*ast.IntValue)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(iv.Value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	},
})

func coerceTimestamp(v interface{}) interface{} {
	if n, ok := model.Int64(v); ok {
		return n
	}
	return nil
}

// NewSchema 构建帖子 GraphQL schema，字段解析全部委托给 reg
func NewSchema(reg *pipeline.Registry) (graphql.Schema, error) {
	sortDirection := graphql.NewEnum(graphql.EnumConfig{
		Name: "ModelSortDirection",
		Values: graphql.EnumValueConfigMap{
			"ASC":  &graphql.EnumValueConfig{Value: "ASC"},
			"DESC": &graphql.EnumValueConfig{Value: "DESC"},
		},
	})

	post := graphql.NewObject(graphql.ObjectConfig{
		Name: "Post",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"owner":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"type":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"timestamp": &graphql.Field{Type: graphql.NewNonNull(timestampScalar)},
			"title":     &graphql.Field{Type: graphql.String},
			"content":   &graphql.Field{Type: graphql.String},
		},
	})

	connection := graphql.NewObject(graphql.ObjectConfig{
		Name: "PostConnection",
		Fields: graphql.Fields{
			"items":     &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(post)))},
			"nextToken": &graphql.Field{Type: graphql.String},
		},
	})

	postInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "PostInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"title":   &graphql.InputObjectFieldConfig{Type: graphql.String},
			"content": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: service.TypeQuery,
		Fields: graphql.Fields{
			service.FieldGetPost: &graphql.Field{
				Type: post,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: resolveWith(reg, service.TypeQuery, service.FieldGetPost),
			},
			service.FieldListPosts: &graphql.Field{
				Type: connection,
				Args: graphql.FieldConfigArgument{
					"owner":         &graphql.ArgumentConfig{Type: graphql.String},
					"limit":         &graphql.ArgumentConfig{Type: graphql.Int},
					"sortDirection": &graphql.ArgumentConfig{Type: sortDirection},
					"nextToken":     &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: resolveWith(reg, service.TypeQuery, service.FieldListPosts),
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: service.TypeMutation,
		Fields: graphql.Fields{
			service.FieldCreatePost: &graphql.Field{
				Type: post,
				Args: graphql.FieldConfigArgument{
					"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(postInput)},
				},
				Resolve: resolveWith(reg, service.TypeMutation, service.FieldCreatePost),
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}

func resolveWith(reg *pipeline.Registry, typeName, fieldName string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		out, err := reg.Resolve(p.Context, typeName, fieldName, p.Args, identity.FromContext(p.Context))
		if err != nil {
			return nil, graphQLError(p.Context, err)
		}
		switch v := out.(type) {
		case model.Item:
			if v == nil {
				return nil, nil
			}
			return v, nil
		case *repository.QueryResult:
			return connectionOf(v), nil
		default:
			return out, nil
		}
	}
}

// connectionOf 转成默认字段解析器能识别的 map
func connectionOf(res *repository.QueryResult) map[string]interface{} {
	items := make([]interface{}, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, it)
	}
	var next interface{}
	if res.NextToken != nil {
		next = *res.NextToken
	}
	return map[string]interface{}{"items": items, "nextToken": next}
}

// graphQLError 鉴权与参数错误原样返回给客户端，其余只记录日志
func graphQLError(ctx context.Context, err error) error {
	var perr *pipeline.Error
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, repository.ErrInvalidNextToken):
		return pipeline.Validation(err.Error(), err)
	}
	logger.Error("graphql resolve failed", zap.Error(err))
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	}
	return errInternal
}

// GraphQL 执行 GraphQL 请求
// @Summary GraphQL 入口（getPost / listPosts / createPost）
// @Tags 帖子
// @Accept json
// @Produce json
// @Param request body graphQLRequest true "GraphQL 请求"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} response.Response
// @Router /graphql [post]
func (h *Handler) GraphQL(c *gin.Context) {
	var req graphQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        c.Request.Context(),
	})
	c.JSON(http.StatusOK, result)
}
