// Package pipeline 管道解析器：按顺序执行一组函数，每个函数构造数据源请求并整理结果，
// 函数之间通过 stash 共享状态
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/d60-Lab/post-resolver/internal/identity"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoResolver   = errors.New("no resolver registered")
)

// Error 带 errorType 返回给客户端的解析错误
type Error struct {
	Type    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Extensions graphql-go 格式化错误时读取
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"errorType": e.Type}
}

// Unauthorized 调用方无权访问 typeName.fieldName
func Unauthorized(typeName, fieldName string) *Error {
	return &Error{
		Type:    "Unauthorized",
		Message: fmt.Sprintf("Not Authorized to access %s on type %s", fieldName, typeName),
		Err:     ErrUnauthorized,
	}
}

// Validation 参数不合法
func Validation(msg string, err error) *Error {
	return &Error{Type: "ValidationError", Message: msg, Err: err}
}

// Context 单次解析中所有函数共享的请求状态
type Context struct {
	TypeName  string
	FieldName string
	Args      map[string]any
	Identity  *identity.Identity
	Stash     map[string]any
	// 上一个函数的结果
	Prev any
}

func newContext(typeName, fieldName string, args map[string]any, id *identity.Identity) *Context {
	if args == nil {
		args = map[string]any{}
	}
	return &Context{
		TypeName:  typeName,
		FieldName: fieldName,
		Args:      args,
		Identity:  id,
		Stash:     map[string]any{},
	}
}

// StashString 读取 stash 中的字符串
func (c *Context) StashString(key string) (string, bool) {
	s, ok := c.Stash[key].(string)
	return s, ok
}

// ArgString 读取可选字符串参数，空串视为未传
func (c *Context) ArgString(key string) (string, bool) {
	switch v := c.Args[key].(type) {
	case string:
		return v, v != ""
	case *string:
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	default:
		return "", false
	}
}

// ArgInt 读取可选整数参数
func (c *Context) ArgInt(key string) (int, bool, error) {
	v, ok := c.Args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int32:
		return int(n), true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, fmt.Errorf("argument %s must be an integer", key)
		}
		return int(n), true, nil
	default:
		return 0, false, fmt.Errorf("argument %s must be an integer", key)
	}
}

// ArgMap 读取对象参数
func (c *Context) ArgMap(key string) (map[string]any, bool) {
	m, ok := c.Args[key].(map[string]any)
	return m, ok
}

// Function 管道中的一个阶段
type Function interface {
	Name() string
	Run(ctx context.Context, rc *Context) (any, error)
}

// Func 强类型阶段：构造请求，交给数据源，再整理数据源结果
type Func[Req, Res any] struct {
	name     string
	request  func(*Context) (Req, error)
	invoke   func(context.Context, Req) (Res, error)
	response func(*Context, Res) (any, error)
}

func NewFunction[Req, Res any](
	name string,
	request func(*Context) (Req, error),
	invoke func(context.Context, Req) (Res, error),
	response func(*Context, Res) (any, error),
) *Func[Req, Res] {
	return &Func[Req, Res]{name: name, request: request, invoke: invoke, response: response}
}

func (f *Func[Req, Res]) Name() string { return f.name }

func (f *Func[Req, Res]) Run(ctx context.Context, rc *Context) (any, error) {
	req, err := f.request(rc)
	if err != nil {
		return nil, err
	}
	res, err := f.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return f.response(rc, res)
}

// None 不访问存储的数据源，请求原样作为结果
func None[T any](_ context.Context, req T) (T, error) { return req, nil }

// Resolver 把一组有序函数绑定到一个 API 字段
type Resolver struct {
	TypeName  string
	FieldName string
	Functions []Function
}

func NewResolver(typeName, fieldName string, fns ...Function) *Resolver {
	return &Resolver{TypeName: typeName, FieldName: fieldName, Functions: fns}
}

func (r *Resolver) key() string { return r.TypeName + "." + r.FieldName }
