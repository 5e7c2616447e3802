package router

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// OriginError 批量查询中单个起点的失败
type OriginError struct {
	Origin string
	Err    error
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("origin %q: %v", e.Origin, e.Err)
}

func (e *OriginError) Unwrap() error {
	return e.Err
}

type BatchResult struct {
	// 起点id -> 结果，失败的起点不在其中
	Profiles map[string]*Profile
	// 按origins中的顺序
	Errors []*OriginError
}

// ComputeBatch 对多个起点并行执行ComputeAccessibility
// 单个起点失败只记录在Errors中，仅ctx被取消时返回error
func (r *Router) ComputeBatch(
	ctx context.Context,
	origins []string,
	window TimeRange,
	step time.Duration,
	maxTransfers int,
	parallel int,
	opts ...QueryOption,
) (*BatchResult, error) {
	origins = lo.Uniq(origins)
	if parallel <= 0 {
		parallel = 1
	}
	profiles := make([]*Profile, len(origins))
	errs := make([]error, len(origins))
	finished := xsync.NewCounter()

	g := new(errgroup.Group)
	g.SetLimit(parallel)
	for i, origin := range origins {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			profiles[i], errs[i] = r.ComputeAccessibility(ctx, origin, window, step, maxTransfers, opts...)
			finished.Inc()
			if n := finished.Value(); n%100 == 0 {
				log.Infof("batch progress: %d/%d origins", n, len(origins))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &BatchResult{Profiles: make(map[string]*Profile, len(origins))}
	for i, origin := range origins {
		if errs[i] != nil {
			log.Warnf("origin %q failed: %v", origin, errs[i])
			res.Errors = append(res.Errors, &OriginError{Origin: origin, Err: errs[i]})
			continue
		}
		res.Profiles[origin] = profiles[i]
	}
	log.Infof("batch finished: %d origins, %d failed", len(origins), len(res.Errors))
	return res, nil
}
