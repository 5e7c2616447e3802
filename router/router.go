package router

import (
	"context"
	"fmt"
	"math"
	"time"

	"git.fiblab.net/sim/accessibility/network"
	"github.com/puzpuzpuz/xsync/v3"
)

// Router 在共享的只读Store上回答可达性查询，可并发使用
type Router struct {
	store   *network.Store
	workers int
	// 已完成的范围查询数
	queries *xsync.Counter
}

type Option func(*Router)

// WithWorkers 单个查询默认的并行出发时刻数量
func WithWorkers(n int) Option {
	return func(r *Router) {
		r.workers = n
	}
}

func New(store *network.Store, opts ...Option) *Router {
	r := &Router{store: store, queries: xsync.NewCounter()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type queryConfig struct {
	scan ScanOptions
}

type QueryOption func(*queryConfig)

// WithItineraries 保留每个结果的行程
func WithItineraries() QueryOption {
	return func(c *queryConfig) {
		c.scan.Itineraries = true
	}
}

func WithLandUseMode(m LandUseMode) QueryOption {
	return func(c *queryConfig) {
		c.scan.Engine.LandUseMode = m
	}
}

func WithDepartureMode(m DepartureMode) QueryOption {
	return func(c *queryConfig) {
		c.scan.Departures = m
	}
}

// WithMaxDuration 丢弃出行时间超过d的标签
func WithMaxDuration(d time.Duration) QueryOption {
	return func(c *queryConfig) {
		c.scan.Engine.MaxDuration = int32(d / time.Second)
	}
}

func WithMinChangeTime(d time.Duration) QueryOption {
	return func(c *queryConfig) {
		c.scan.Engine.MinChangeTime = int32(d / time.Second)
	}
}

// WithTimeBudget 超出预算后在当前轮结束时停止，Profile标记为BudgetExceeded
func WithTimeBudget(d time.Duration) QueryOption {
	return func(c *queryConfig) {
		c.scan.TimeBudget = d
	}
}

func WithQueryWorkers(n int) QueryOption {
	return func(c *queryConfig) {
		c.scan.Workers = n
	}
}

// getter

func (r *Router) Store() *network.Store {
	return r.store
}

func (r *Router) Queries() int64 {
	return r.queries.Value()
}

// ComputeAccessibility 计算从origin出发、在window内每隔step出发时到各站点的Pareto结果
// 最多换乘maxTransfers次，即最多乘车maxTransfers+1次
func (r *Router) ComputeAccessibility(
	ctx context.Context,
	origin string,
	window TimeRange,
	step time.Duration,
	maxTransfers int,
	opts ...QueryOption,
) (*Profile, error) {
	originIdx, err := r.store.LookupStop(origin)
	if err != nil {
		return nil, err
	}
	if maxTransfers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTransfers, maxTransfers)
	}
	cfg := queryConfig{scan: ScanOptions{Workers: r.workers}}
	for _, opt := range opts {
		opt(&cfg)
	}
	// 轮次以int32计数，更大的上限等同于不限制
	cfg.scan.Engine.MaxRounds = min(maxTransfers, math.MaxInt32-1) + 1
	start := time.Now()
	p, err := NewRangeScanner(r.store, cfg.scan).Run(ctx, originIdx, window, step)
	if err != nil {
		return nil, err
	}
	r.queries.Inc()
	log.Debugf("accessibility from %q took %v", origin, time.Since(start))
	return p, nil
}
