package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/post-resolver/config"
	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/model"
	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
	"github.com/d60-Lab/post-resolver/internal/service"
	"github.com/d60-Lab/post-resolver/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func report(name string, vs []time.Duration) {
	fmt.Printf("%-28s samples=%d avg=%v p95=%v p99=%v\n", name, len(vs), avg(vs), pct(vs, 0.95), pct(vs, 0.99))
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	sqlStore := repository.NewSQLPostStore(db)
	if err := sqlStore.InitSchema(); err != nil {
		panic(err)
	}

	// 压测参数
	POSTS := envInt("POSTS", 5000) // 发帖数
	OWNERS := envInt("OWNERS", 50) // 作者数
	PAGE := envInt("PAGE", 50)     // 列表页大小
	READS := envInt("READS", 2000) // getPost 次数

	// 清空表保证每次结果可复现（仅限本地压测）
	_ = db.Exec("DELETE FROM posts").Error

	var store repository.PostStore = sqlStore
	var cached *repository.CachedPostStore
	deps := service.Deps{}
	var stopWarmer func(context.Context) error
	var warmer *service.CacheWarmer
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		_ = client.FlushDB(ctx).Err()
		cached = repository.NewCachedPostStore(sqlStore, client, cfg.Redis.TTL)
		store = cached
		warmer = service.NewCacheWarmer(cached, POSTS)
		stopWarmer = warmer.Start(cfg.Redis.WarmWorkers)
		deps.OnCreated = warmer.Enqueue
	}
	deps.Store = store
	reg := service.NewPostRegistry(deps, nil, pipeline.LogNone)

	owners := make([]*identity.Identity, OWNERS)
	for i := range owners {
		owners[i] = &identity.Identity{
			AuthType: identity.AuthTypeUserPool,
			Claims:   map[string]any{identity.ClaimCognitoUsername: fmt.Sprintf("user%03d", i)},
		}
	}

	// 发帖
	createDurations := make([]time.Duration, 0, POSTS)
	ids := make([]string, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		out, err := reg.Resolve(ctx, service.TypeMutation, service.FieldCreatePost,
			map[string]any{"input": map[string]any{"content": fmt.Sprintf("hello %d", i)}}, owners[rand.Intn(OWNERS)])
		if err != nil {
			panic(err)
		}
		createDurations = append(createDurations, time.Since(st))
		ids = append(ids, out.(model.Item)[model.AttrID].(string))
	}

	// 等待缓存预热落地
	var land []time.Duration
	if warmer != nil {
		timeout := time.After(time.Minute)
		for len(land) < POSTS {
			select {
			case d := <-warmer.Metrics():
				land = append(land, d)
			case <-timeout:
				fmt.Printf("timeout while waiting for cache warm metrics: got=%d want=%d\n", len(land), POSTS)
				goto READ
			}
		}
	}

READ:
	readDurations := make([]time.Duration, 0, READS)
	for i := 0; i < READS; i++ {
		id := ids[rand.Intn(len(ids))]
		st := time.Now()
		if _, err := reg.Resolve(ctx, service.TypeQuery, service.FieldGetPost, map[string]any{"id": id}, nil); err != nil {
			panic(err)
		}
		readDurations = append(readDurations, time.Since(st))
	}

	// 两种排序各翻一遍
	walk := func(args map[string]any) ([]time.Duration, int) {
		var ds []time.Duration
		total := 0
		for {
			st := time.Now()
			out, err := reg.Resolve(ctx, service.TypeQuery, service.FieldListPosts, args, nil)
			if err != nil {
				panic(err)
			}
			ds = append(ds, time.Since(st))
			res := out.(*repository.QueryResult)
			total += len(res.Items)
			if res.NextToken == nil {
				return ds, total
			}
			args["nextToken"] = *res.NextToken
		}
	}
	globalPages, globalTotal := walk(map[string]any{"limit": PAGE, "sortDirection": service.SortDESC})
	ownerPages, ownerTotal := walk(map[string]any{"limit": PAGE, "owner": "user000"})

	// 输出
	fmt.Printf("POSTS=%d OWNERS=%d PAGE=%d READS=%d cache=%v\n", POSTS, OWNERS, PAGE, READS, cached != nil)
	report("createPost", createDurations)
	if len(land) > 0 {
		report("cache warm (enqueue->set)", land)
	}
	report("getPost", readDurations)
	report(fmt.Sprintf("listPosts global (%d rows)", globalTotal), globalPages)
	report(fmt.Sprintf("listPosts owner (%d rows)", ownerTotal), ownerPages)
	if cached != nil {
		c := cached.Counters()
		fmt.Printf("cache hits=%d misses=%d\n", c.Hits, c.Misses)
	}
	if stopWarmer != nil {
		_ = stopWarmer(ctx)
	}
	if n, err := sqlStore.Count(ctx); err == nil {
		fmt.Printf("rows in posts: %d\n", n)
	}
}
