package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/internal/model"
	"github.com/d60-Lab/post-resolver/pkg/logger"
)

// ItemCache 可写入单条帖子的缓存
type ItemCache interface {
	Set(ctx context.Context, item model.Item) error
}

type warmJob struct {
	item  model.Item
	enqAt time.Time
}

// CacheWarmer 本地异步回填：新帖子创建后写入读缓存，不阻塞创建请求
type CacheWarmer struct {
	cache     ItemCache
	ch        chan warmJob
	metricsCh chan time.Duration
}

func NewCacheWarmer(cache ItemCache, queueSize int) *CacheWarmer {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &CacheWarmer{cache: cache, ch: make(chan warmJob, queueSize), metricsCh: make(chan time.Duration, 65536)}
}

// Start 启动若干 worker；返回停止函数，停止时等待队列排空一小段时间
func (w *CacheWarmer) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-w.ch:
					w.handle(job)
				case <-stopCh:
					// 退出前把已入队的处理完
					for {
						select {
						case job := <-w.ch:
							w.handle(job)
						default:
							return
						}
					}
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				if len(w.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

func (w *CacheWarmer) handle(job warmJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.cache.Set(ctx, job.item); err != nil {
		logger.Warn("cache warm failed", zap.Any("id", job.item[model.AttrID]), zap.Error(err))
	}
	cancel()
	select {
	case w.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

// Enqueue 队列满时丢弃，缓存未命中时仍会回源
func (w *CacheWarmer) Enqueue(item model.Item) {
	select {
	case w.ch <- warmJob{item: item, enqAt: time.Now()}:
	default:
		logger.Warn("cache warmer queue full, drop", zap.Any("id", item[model.AttrID]))
	}
}

// Metrics 返回回填耗时的只读通道（每处理一条发送一次 duration）。
func (w *CacheWarmer) Metrics() <-chan time.Duration { return w.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (w *CacheWarmer) QueueLen() int { return len(w.ch) }
