package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/d60-Lab/post-resolver/internal/model"
)

// 两个二级排序（索引）
const (
	// IndexByTimestamp 分区键 type，排序键 timestamp（全局时间线）
	IndexByTimestamp = "sortByTimestamp"
	// IndexByOwner 分区键 owner，排序键 timestamp（按作者时间线）
	IndexByOwner = "bySpecificOwner"
)

var (
	ErrInvalidNextToken = errors.New("invalid next token")
	ErrUnknownIndex     = errors.New("unknown index")
)

// PartitionAttr 返回索引的分区属性名
func PartitionAttr(index string) (string, error) {
	switch index {
	case IndexByTimestamp:
		return model.AttrType, nil
	case IndexByOwner:
		return model.AttrOwner, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIndex, index)
	}
}

// PutItemRequest 无条件写入，Key 为新生成的主键
type PutItemRequest struct {
	Key        string
	Attributes model.Item
}

// GetItemRequest 按主键点查
type GetItemRequest struct {
	Key string
}

// QueryRequest 在某个二级排序上做范围查询
type QueryRequest struct {
	Index            string
	PartitionValue   string
	Limit            int
	ScanIndexForward bool
	// NextToken 上一页返回的续传标记，原样透传
	NextToken string
}

// DefaultQueryLimit 未指定 Limit 时的页大小
const DefaultQueryLimit = 20

func (r QueryRequest) limitOrDefault() int {
	if r.Limit <= 0 {
		return DefaultQueryLimit
	}
	return r.Limit
}

// QueryResult 范围查询结果，NextToken 为空表示没有下一页
type QueryResult struct {
	Items     []model.Item `json:"items"`
	NextToken *string      `json:"nextToken"`
}

// PostStore 帖子存储：点写、点查、带续传标记的范围查询
type PostStore interface {
	// PutItem 写入并返回完整的属性表（含 id）
	PutItem(ctx context.Context, req PutItemRequest) (model.Item, error)
	// GetItem 不存在时返回 nil, nil
	GetItem(ctx context.Context, req GetItemRequest) (model.Item, error)
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

func encodeToken(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNextToken, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNextToken, err)
	}
	return nil
}
