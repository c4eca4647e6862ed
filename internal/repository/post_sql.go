package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/post-resolver/internal/model"
)

// sqlCursor 关系库后端的续传标记内容（keyset 分页）
type sqlCursor struct {
	Index     string `json:"ix"`
	Partition string `json:"pk"`
	Timestamp int64  `json:"ts"`
	ID        string `json:"id"`
}

// SQLPostStore 基于 gorm 的帖子存储
type SQLPostStore struct {
	db *gorm.DB
}

func NewSQLPostStore(db *gorm.DB) *SQLPostStore { return &SQLPostStore{db: db} }

// InitSchema 建表及两个复合索引
func (s *SQLPostStore) InitSchema() error {
	if err := s.db.AutoMigrate(&model.Post{}); err != nil {
		return fmt.Errorf("failed to migrate posts table: %w", err)
	}
	return nil
}

func (s *SQLPostStore) PutItem(ctx context.Context, req PutItemRequest) (model.Item, error) {
	post := model.PostFromItem(req.Key, req.Attributes)
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, err
	}
	return post.ToItem(), nil
}

func (s *SQLPostStore) GetItem(ctx context.Context, req GetItemRequest) (model.Item, error) {
	var post model.Post
	err := s.db.WithContext(ctx).Where("id = ?", req.Key).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post.ToItem(), nil
}

// Query 多取一条判断是否还有下一页；排序键相同的按 id 兜底保证顺序稳定
func (s *SQLPostStore) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	attr, err := PartitionAttr(req.Index)
	if err != nil {
		return nil, err
	}
	limit := req.limitOrDefault()
	column := "owner"
	if attr == model.AttrType {
		column = "post_type"
	}

	q := s.db.WithContext(ctx).Model(&model.Post{}).Where(column+" = ?", req.PartitionValue)

	if req.NextToken != "" {
		var cur sqlCursor
		if err := decodeToken(req.NextToken, &cur); err != nil {
			return nil, err
		}
		if cur.Index != req.Index || cur.Partition != req.PartitionValue {
			return nil, fmt.Errorf("%w: token belongs to another query", ErrInvalidNextToken)
		}
		if req.ScanIndexForward {
			q = q.Where("(ts > ? OR (ts = ? AND id > ?))", cur.Timestamp, cur.Timestamp, cur.ID)
		} else {
			q = q.Where("(ts < ? OR (ts = ? AND id < ?))", cur.Timestamp, cur.Timestamp, cur.ID)
		}
	}

	if req.ScanIndexForward {
		q = q.Order("ts ASC").Order("id ASC")
	} else {
		q = q.Order("ts DESC").Order("id DESC")
	}

	var posts []*model.Post
	if err := q.Limit(limit + 1).Find(&posts).Error; err != nil {
		return nil, err
	}

	res := &QueryResult{Items: make([]model.Item, 0, len(posts))}
	if len(posts) > limit {
		posts = posts[:limit]
		last := posts[len(posts)-1]
		token, err := encodeToken(sqlCursor{Index: req.Index, Partition: req.PartitionValue, Timestamp: last.Timestamp, ID: last.ID})
		if err != nil {
			return nil, err
		}
		res.NextToken = &token
	}
	for _, p := range posts {
		res.Items = append(res.Items, p.ToItem())
	}
	return res, nil
}

// Count 统计帖子数量
func (s *SQLPostStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Post{}).Count(&count).Error
	return count, err
}
