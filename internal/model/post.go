package model

// PostType 全局时间线分区的固定类型标记
const PostType = "post"

// 服务端写入的属性名，调用方传入的同名字段会被覆盖
const (
	AttrID        = "id"
	AttrOwner     = "owner"
	AttrType      = "type"
	AttrTimestamp = "timestamp"
)

// Item 存储层与解析管线之间交换的属性表
type Item = map[string]any

// Post 帖子持久化模型（关系库后端）
// idx_post_type_ts 服务全局时间线，idx_post_owner_ts 服务按作者时间线
type Post struct {
	ID         string         `gorm:"primaryKey;type:varchar(36);index:idx_post_type_ts,priority:3;index:idx_post_owner_ts,priority:3"`
	Owner      string         `gorm:"type:varchar(128);not null;index:idx_post_owner_ts,priority:1"`
	Type       string         `gorm:"column:post_type;type:varchar(16);not null;index:idx_post_type_ts,priority:1"`
	Timestamp  int64          `gorm:"column:ts;not null;index:idx_post_type_ts,priority:2;index:idx_post_owner_ts,priority:2"`
	Attributes map[string]any `gorm:"type:text;serializer:json"`
}

func (Post) TableName() string { return "posts" }

// ToItem 展开为属性表，服务端字段优先
func (p *Post) ToItem() Item {
	item := make(Item, len(p.Attributes)+4)
	for k, v := range p.Attributes {
		item[k] = v
	}
	item[AttrID] = p.ID
	item[AttrOwner] = p.Owner
	item[AttrType] = p.Type
	item[AttrTimestamp] = p.Timestamp
	return item
}

// PostFromItem 拆出服务端字段，其余字段原样放入 Attributes
func PostFromItem(id string, item Item) *Post {
	p := &Post{ID: id, Attributes: make(map[string]any, len(item))}
	for k, v := range item {
		switch k {
		case AttrID:
		case AttrOwner:
			p.Owner, _ = v.(string)
		case AttrType:
			p.Type, _ = v.(string)
		case AttrTimestamp:
			p.Timestamp, _ = Int64(v)
		default:
			p.Attributes[k] = v
		}
	}
	return p
}

// NormalizeItem 把解码后的数值型 timestamp 统一为 int64
func NormalizeItem(item Item) Item {
	if item == nil {
		return nil
	}
	if ts, ok := Int64(item[AttrTimestamp]); ok {
		item[AttrTimestamp] = ts
	}
	return item
}

// Int64 兼容 JSON/DynamoDB 解码出的各种数值类型
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
