package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/model"
	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
)

const (
	TypeQuery    = "Query"
	TypeMutation = "Mutation"

	FieldCreatePost = "createPost"
	FieldGetPost    = "getPost"
	FieldListPosts  = "listPosts"

	// DefaultListLimit listPosts 未传 limit 时的页大小
	DefaultListLimit = 20
	MaxListLimit     = 1000

	SortDESC = "DESC"

	stashOwner   = "owner"
	stashHasAuth = "hasAuth"
)

var validate = validator.New()

// listArgs listPosts 参数校验
type listArgs struct {
	Limit int `validate:"gte=1,lte=1000"`
}

// Deps 构造解析器所需依赖
type Deps struct {
	Store repository.PostStore
	// Now 与 NewID 可替换，便于测试
	Now   func() time.Time
	NewID func() string
	// OnCreated 创建成功后回调（例如异步回填缓存），可为空
	OnCreated func(model.Item)
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = newPostID
	}
}

// newPostID 时间有序的 UUIDv7，生成失败时退回 v4
func newPostID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewPostRegistry 注册三个解析器：
//
//	Mutation.createPost = CheckOwner -> CreatePost
//	Query.getPost       = GetPost
//	Query.listPosts     = ListPosts
func NewPostRegistry(deps Deps, log *zap.Logger, level pipeline.FieldLogLevel) *pipeline.Registry {
	deps.defaults()
	reg := pipeline.NewRegistry(log, level)
	reg.Register(pipeline.NewResolver(TypeMutation, FieldCreatePost, CheckOwnerFunction(), CreatePostFunction(deps)))
	reg.Register(pipeline.NewResolver(TypeQuery, FieldGetPost, GetPostFunction(deps.Store)))
	reg.Register(pipeline.NewResolver(TypeQuery, FieldListPosts, ListPostsFunction(deps.Store)))
	return reg
}

// CheckOwnerFunction 唯一的鉴权关口：只接受带用户名声明的用户池身份，
// 成功时把 owner 写入 stash；否则拒绝，后续函数不会执行
func CheckOwnerFunction() pipeline.Function {
	return pipeline.NewFunction("CheckOwnerFunction",
		func(rc *pipeline.Context) (struct{}, error) {
			rc.Stash[stashHasAuth] = true
			owner, ok := rc.Identity.Username()
			if !ok || rc.Identity.AuthType != identity.AuthTypeUserPool {
				return struct{}{}, pipeline.Unauthorized(rc.TypeName, rc.FieldName)
			}
			rc.Stash[stashOwner] = owner
			return struct{}{}, nil
		},
		pipeline.None[struct{}],
		func(*pipeline.Context, struct{}) (any, error) { return map[string]any{}, nil },
	)
}

// BuildCreatePostRequest 复制调用方输入并写入服务端字段，调用方同名字段被覆盖
func BuildCreatePostRequest(input map[string]any, owner string, now time.Time, id string) repository.PutItemRequest {
	attrs := make(model.Item, len(input)+3)
	for k, v := range input {
		if k == model.AttrID {
			continue
		}
		attrs[k] = v
	}
	attrs[model.AttrTimestamp] = now.Unix()
	attrs[model.AttrOwner] = owner
	attrs[model.AttrType] = model.PostType
	return repository.PutItemRequest{Key: id, Attributes: attrs}
}

// CreatePostFunction 无条件写入一条新帖子；没有幂等键，重复提交会产生重复帖子
func CreatePostFunction(deps Deps) pipeline.Function {
	deps.defaults()
	return pipeline.NewFunction("CreatePostFunction",
		func(rc *pipeline.Context) (repository.PutItemRequest, error) {
			owner, ok := rc.StashString(stashOwner)
			if !ok || owner == "" {
				return repository.PutItemRequest{}, pipeline.Unauthorized(rc.TypeName, rc.FieldName)
			}
			input, _ := rc.ArgMap("input")
			return BuildCreatePostRequest(input, owner, deps.Now(), deps.NewID()), nil
		},
		func(ctx context.Context, req repository.PutItemRequest) (model.Item, error) {
			item, err := deps.Store.PutItem(ctx, req)
			if err == nil && deps.OnCreated != nil {
				deps.OnCreated(item)
			}
			return item, err
		},
		ShapeItem,
	)
}

// BuildGetPostRequest 按 id 点查
func BuildGetPostRequest(rc *pipeline.Context) (repository.GetItemRequest, error) {
	id, ok := rc.ArgString("id")
	if !ok {
		return repository.GetItemRequest{}, pipeline.Validation("argument id is required", nil)
	}
	return repository.GetItemRequest{Key: id}, nil
}

func GetPostFunction(store repository.PostStore) pipeline.Function {
	return pipeline.NewFunction("GetPostFunction", BuildGetPostRequest, store.GetItem, ShapeItem)
}

// BuildListPostsRequest 无 owner 走全局时间线索引，有 owner 走按作者索引；
// 只有 sortDirection == "DESC" 时倒序；nextToken 原样透传
func BuildListPostsRequest(rc *pipeline.Context) (repository.QueryRequest, error) {
	limit, ok, err := rc.ArgInt("limit")
	if err != nil {
		return repository.QueryRequest{}, pipeline.Validation(err.Error(), err)
	}
	if !ok {
		limit = DefaultListLimit
	}
	if err := validate.Struct(listArgs{Limit: limit}); err != nil {
		return repository.QueryRequest{}, pipeline.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit), err)
	}

	req := repository.QueryRequest{Limit: limit}
	if owner, ok := rc.ArgString("owner"); ok {
		req.Index = repository.IndexByOwner
		req.PartitionValue = owner
	} else {
		req.Index = repository.IndexByTimestamp
		req.PartitionValue = model.PostType
	}

	dir, _ := rc.ArgString("sortDirection")
	req.ScanIndexForward = dir != SortDESC

	if token, ok := rc.ArgString("nextToken"); ok {
		req.NextToken = token
	}
	return req, nil
}

func ListPostsFunction(store repository.PostStore) pipeline.Function {
	return pipeline.NewFunction("ListPostsFunction", BuildListPostsRequest, store.Query, ShapeQueryResult)
}

// ShapeItem 点查/写入结果原样返回；不存在时为 nil
func ShapeItem(_ *pipeline.Context, item model.Item) (any, error) {
	if item == nil {
		return nil, nil
	}
	return item, nil
}

// ShapeQueryResult 范围查询结果原样返回
func ShapeQueryResult(_ *pipeline.Context, res *repository.QueryResult) (any, error) {
	if res == nil {
		return &repository.QueryResult{Items: []model.Item{}}, nil
	}
	return res, nil
}
