package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/internal/identity"
)

// FieldLogLevel 字段解析日志级别
type FieldLogLevel int

const (
	LogNone FieldLogLevel = iota
	LogError
	LogAll
)

// ParseFieldLogLevel 接受 NONE/ERROR/ALL，其他值按 NONE 处理
func ParseFieldLogLevel(s string) FieldLogLevel {
	switch strings.ToUpper(s) {
	case "ALL":
		return LogAll
	case "ERROR":
		return LogError
	default:
		return LogNone
	}
}

// Registry API 字段到解析器的映射
type Registry struct {
	resolvers map[string]*Resolver
	log       *zap.Logger
	level     FieldLogLevel
	tracer    trace.Tracer
}

func NewRegistry(log *zap.Logger, level FieldLogLevel) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		resolvers: make(map[string]*Resolver),
		log:       log,
		level:     level,
		tracer:    otel.Tracer("github.com/d60-Lab/post-resolver/internal/pipeline"),
	}
}

// Register 注册 r，同一字段已有解析器时覆盖
func (g *Registry) Register(r *Resolver) { g.resolvers[r.key()] = r }

func (g *Registry) Lookup(typeName, fieldName string) (*Resolver, bool) {
	r, ok := g.resolvers[typeName+"."+fieldName]
	return r, ok
}

// Resolve 执行 typeName.fieldName 的解析器。函数按顺序执行，
// 任一函数失败即终止，后续函数不再执行；结果为最后一个函数的返回值
func (g *Registry) Resolve(ctx context.Context, typeName, fieldName string, args map[string]any, id *identity.Identity) (any, error) {
	r, ok := g.Lookup(typeName, fieldName)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoResolver, typeName, fieldName)
	}

	ctx, span := g.tracer.Start(ctx, "resolve "+r.key())
	defer span.End()

	rc := newContext(typeName, fieldName, args, id)
	for _, fn := range r.Functions {
		st := time.Now()
		out, err := g.run(ctx, fn, rc)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			if g.level >= LogError {
				g.log.Error("resolver function failed",
					zap.String("field", r.key()),
					zap.String("function", fn.Name()),
					zap.Duration("latency", time.Since(st)),
					zap.Error(err),
				)
			}
			return nil, err
		}
		if g.level >= LogAll {
			g.log.Info("resolver function",
				zap.String("field", r.key()),
				zap.String("function", fn.Name()),
				zap.Any("args", rc.Args),
				zap.Any("result", out),
				zap.Duration("latency", time.Since(st)),
			)
		}
		rc.Prev = out
	}
	return rc.Prev, nil
}

func (g *Registry) run(ctx context.Context, fn Function, rc *Context) (any, error) {
	ctx, span := g.tracer.Start(ctx, fn.Name(), trace.WithAttributes(
		attribute.String("graphql.type", rc.TypeName),
		attribute.String("graphql.field", rc.FieldName),
	))
	defer span.End()

	out, err := fn.Run(ctx, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
