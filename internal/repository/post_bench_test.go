package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/d60-Lab/post-resolver/internal/model"
)

func BenchmarkPutItem(b *testing.B) {
	s := setupSQLStore(b)
	ctx := context.Background()
	owners := make([]string, 100)
	for i := range owners {
		owners[i] = fmt.Sprintf("u%03d", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.PutItem(ctx, PutItemRequest{Key: uuid.NewString(), Attributes: model.Item{
			"owner": owners[rand.Intn(len(owners))], "type": model.PostType, "timestamp": int64(i), "content": "bench",
		}})
	}
}

func BenchmarkQueryGlobalAndOwner(b *testing.B) {
	s := setupSQLStore(b)
	ctx := context.Background()

	// 构造：u0 发 N 条，其余作者各发少量
	const N = 5000
	for i := 0; i < N; i++ {
		putPost(b, s, fmt.Sprintf("u0-%05d", i), "u0", int64(i))
		if i%10 == 0 {
			putPost(b, s, fmt.Sprintf("ux-%05d", i), fmt.Sprintf("u%d", i%37+1), int64(i))
		}
	}

	b.ResetTimer()
	b.Run("GlobalFeedFirstPage", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = s.Query(ctx, QueryRequest{Index: IndexByTimestamp, PartitionValue: model.PostType, Limit: 50})
		}
	})

	b.Run("OwnerFeedSeek", func(b *testing.B) {
		first, _ := s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "u0", Limit: 50})
		token := ""
		if first != nil && first.NextToken != nil {
			token = *first.NextToken
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "u0", Limit: 50, NextToken: token})
		}
	})
}
