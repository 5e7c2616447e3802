package router

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router/algo"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type ScanOptions struct {
	Engine     EngineOptions
	Departures DepartureMode
	// 并行的出发时刻数量，<=0时取CPU数
	Workers     int
	Itineraries bool
	// 整个范围查询的时间预算，0表示不限制
	TimeBudget time.Duration
}

// RangeScanner 在出发时间窗内反复运行RoundEngine并汇总为Profile
type RangeScanner struct {
	store *network.Store
	opts  ScanOptions
}

func NewRangeScanner(store *network.Store, opts ScanOptions) *RangeScanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &RangeScanner{store: store, opts: opts}
}

// DepartureTimes 枚举需要运行的出发时刻，升序且不重复
func (s *RangeScanner) DepartureTimes(origin network.StopIdx, window TimeRange, step time.Duration) ([]int32, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if s.opts.Departures == DepartureTrips {
		return s.tripDepartures(origin, window), nil
	}
	if window.Start == window.End {
		return []int32{window.Start}, nil
	}
	stepSec := int32(step / time.Second)
	if stepSec <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStep, step)
	}
	var deps []int32
	for t := window.Start; t <= window.End; t += stepSec {
		deps = append(deps, t)
		if t > algo.Infinity-stepSec {
			break
		}
	}
	return deps, nil
}

// 起点及接驳站点上的发车时刻，换算为在起点的出发时刻
func (s *RangeScanner) tripDepartures(origin network.StopIdx, window TimeRange) []int32 {
	deps := []int32{window.Start, window.End}
	collect := func(stop network.StopIdx, access int32) {
		for _, rs := range s.store.RoutesServing(stop) {
			for _, trip := range s.store.TripsOf(rs.Route) {
				t := trip.Departures[rs.Position] - access
				if window.Contains(t) {
					deps = append(deps, t)
				}
			}
		}
	}
	collect(origin, 0)
	for _, edge := range s.store.TransfersFrom(origin) {
		collect(edge.To, edge.TravelTime())
	}
	slices.Sort(deps)
	return slices.Compact(deps)
}

func (s *RangeScanner) Run(ctx context.Context, origin network.StopIdx, window TimeRange, step time.Duration) (*Profile, error) {
	if origin < 0 || int(origin) >= s.store.NumStops() {
		return nil, &network.UnknownStopError{StopID: fmt.Sprintf("#%d", origin)}
	}
	deps, err := s.DepartureTimes(origin, window, step)
	if err != nil {
		return nil, err
	}
	engOpts := s.opts.Engine
	if s.opts.TimeBudget > 0 {
		engOpts.Deadline = time.Now().Add(s.opts.TimeBudget)
	}
	engines := sync.Pool{New: func() any {
		return NewRoundEngine(s.store, engOpts)
	}}

	builder := newProfileBuilder(s.store, s.opts.Itineraries)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, dep := range deps {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			engine := engines.Get().(*RoundEngine)
			defer engines.Put(engine)
			res, err := engine.Run(origin, dep)
			if err != nil {
				return err
			}
			builder.add(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	originID := s.store.Stop(origin).ID
	p := builder.freeze(&Profile{
		QueryID:    s.queryID(originID, window, deps),
		Origin:     origin,
		OriginID:   originID,
		Window:     window,
		Departures: deps,
	})
	log.Debugf("query %s from %q %v: %d departures, %d destinations, %d entries, status %v",
		p.QueryID, originID, window, len(deps), len(p.dests), p.Len(), p.Status)
	return p, nil
}

// 相同的网络与参数得到相同的查询id
func (s *RangeScanner) queryID(originID string, window TimeRange, deps []int32) uuid.UUID {
	e := s.opts.Engine
	key := fmt.Sprintf("%s/%d/%s/%d-%d/%v/%d/%d/%d/%d/%v/%v/%v",
		s.store.Dataset(), s.store.Version(), originID, window.Start, window.End, deps,
		e.MaxRounds, e.MaxDuration, e.MinChangeTime, e.LandUseMode,
		s.opts.Departures, s.opts.Itineraries, s.opts.TimeBudget)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("accessibility:"+key))
}
