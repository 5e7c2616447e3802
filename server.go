package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/accessibility/config"
	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router"
	"git.fiblab.net/sim/accessibility/router/algo"
	"github.com/bluele/gcache"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

const (
	// 请求未给出步长时的默认值（单位：秒）
	DEFAULT_STEP_SECONDS = 60
	// 单个请求按步长展开的出发时刻上限
	MAX_DEPARTURES = 1440
)

type AccessibilityServer struct {
	// 保护router的替换，重新加载快照时写锁
	mu     *xsync.RBMutex
	router *router.Router
	// 每次Reload加一，作为缓存键的一部分
	generation uint64
	defaults   config.EngineConfig
	// 响应缓存，容量为0时为nil
	cache gcache.Cache

	// 接口开启true或关闭false
	ok bool
	// 条件变量
	cond *sync.Cond
}

func NewAccessibilityServer(store *network.Store, engine config.EngineConfig, server config.ServerConfig) *AccessibilityServer {
	s := &AccessibilityServer{
		mu:       xsync.NewRBMutex(),
		router:   router.New(store, router.WithWorkers(engine.Workers)),
		defaults: engine,
		ok:       true,
		cond:     sync.NewCond(&sync.Mutex{}),
	}
	if server.CacheSize > 0 {
		b := gcache.New(server.CacheSize).LRU()
		if server.CacheTTL > 0 {
			b = b.Expiration(server.CacheTTL)
		}
		s.cache = b.Build()
	}
	return s
}

// Router 当前使用的router
func (s *AccessibilityServer) Router() *router.Router {
	r, _ := s.current()
	return r
}

func (s *AccessibilityServer) current() (*router.Router, uint64) {
	t := s.mu.RLock()
	defer s.mu.RUnlock(t)
	return s.router, s.generation
}

// 请求在某一代网络上的缓存键，旧网络上算出的结果不会被新网络命中
func cacheKey(in *ComputeAccessibilityRequest, generation uint64) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%s", generation, data), nil
}

// 暂停期间阻塞
func (s *AccessibilityServer) wait() {
	s.cond.L.Lock()
	for !s.ok {
		s.cond.Wait()
	}
	s.cond.L.Unlock()
}

func invalidArgument(format string, args ...any) error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}

// 将查询错误映射为connect错误码
func connectError(err error) error {
	var unknown *network.UnknownStopError
	var structural *network.StructuralError
	switch {
	case errors.As(err, &unknown),
		errors.Is(err, router.ErrInvalidWindow),
		errors.Is(err, router.ErrInvalidStep),
		errors.Is(err, router.ErrInvalidTransfers),
		errors.Is(err, algo.ErrBadClock):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &structural):
		return connect.NewError(connect.CodeInternal, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeUnknown, err)
	}
}

type query struct {
	window       router.TimeRange
	step         time.Duration
	maxTransfers int
	opts         []router.QueryOption
}

func (s *AccessibilityServer) parseQuery(in *ComputeAccessibilityRequest) (*query, error) {
	if in.Origin == "" {
		return nil, invalidArgument("empty origin")
	}
	start, err := algo.ParseClock(in.Start)
	if err != nil {
		return nil, connectError(err)
	}
	end := start
	if in.End != "" {
		if end, err = algo.ParseClock(in.End); err != nil {
			return nil, connectError(err)
		}
	}
	q := &query{
		window:       router.TimeRange{Start: start, End: end},
		step:         time.Duration(lo.Ternary(in.StepSeconds > 0, in.StepSeconds, DEFAULT_STEP_SECONDS)) * time.Second,
		maxTransfers: s.defaults.MaxTransfers,
	}
	if in.MaxTransfers != nil {
		q.maxTransfers = *in.MaxTransfers
	}
	landUse, err := router.ParseLandUseMode(lo.Ternary(in.LandUseMode != "", in.LandUseMode, s.defaults.LandUseMode))
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	departures, err := router.ParseDepartureMode(lo.Ternary(in.DepartureMode != "", in.DepartureMode, s.defaults.DepartureMode))
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	if n := int64(end-start) / int64(q.step/time.Second); departures == router.DepartureSteps && n >= MAX_DEPARTURES {
		return nil, invalidArgument("too many departures in %v: %d", q.window, n+1)
	}
	q.opts = []router.QueryOption{
		router.WithLandUseMode(landUse),
		router.WithDepartureMode(departures),
		router.WithMaxDuration(s.defaults.MaxDuration),
		router.WithMinChangeTime(s.defaults.MinChangeTime),
		router.WithTimeBudget(s.defaults.TimeBudget),
	}
	if in.Itineraries {
		q.opts = append(q.opts, router.WithItineraries())
	}
	return q, nil
}

func (s *AccessibilityServer) ComputeAccessibility(
	ctx context.Context,
	req *connect.Request[ComputeAccessibilityRequest],
) (*connect.Response[ComputeAccessibilityResponse], error) {
	in := req.Msg
	// 暂停-恢复机制
	s.wait()
	r, generation := s.current()

	var key string
	if s.cache != nil {
		var err error
		if key, err = cacheKey(in, generation); err != nil {
			log.Warnf("skip response cache: %v", err)
		} else if v, err := s.cache.Get(key); err == nil {
			log.Debugf("cache hit for origin %q", in.Origin)
			return connect.NewResponse(v.(*ComputeAccessibilityResponse)), nil
		}
	}

	q, err := s.parseQuery(in)
	if err != nil {
		return nil, err
	}
	log.Debugf("compute accessibility from %q in %v", in.Origin, q.window)
	p, err := r.ComputeAccessibility(ctx, in.Origin, q.window, q.step, q.maxTransfers, q.opts...)
	if err != nil {
		return nil, connectError(err)
	}
	out, err := buildResponse(r, p, in)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && key != "" {
		if err := s.cache.Set(key, out); err != nil {
			log.Warnf("failed to cache response: %v", err)
		}
	}
	return connect.NewResponse(out), nil
}

func buildResponse(r *router.Router, p *router.Profile, in *ComputeAccessibilityRequest) (*ComputeAccessibilityResponse, error) {
	store := r.Store()
	dests := p.Destinations()
	if len(in.Destinations) > 0 {
		dests = make([]network.StopIdx, 0, len(in.Destinations))
		for _, id := range in.Destinations {
			idx, ok := store.StopIndex(id)
			if !ok {
				return nil, invalidArgument("unknown destination %q", id)
			}
			dests = append(dests, idx)
		}
	}
	sum := p.Summary(in.MaxTravelSeconds)
	out := &ComputeAccessibilityResponse{
		QueryID:        p.QueryID.String(),
		Origin:         p.OriginID,
		Departures:     lo.Map(p.Departures, func(t int32, _ int) string { return algo.FormatClock(t) }),
		Status:         p.Status.String(),
		BudgetExceeded: p.BudgetExceeded(),
		Summary: SummaryMessage{
			Reachable:    sum.Reachable,
			TotalStops:   sum.TotalStops,
			Coverage:     sum.Coverage,
			LandUse:      sum.LandUse,
			LandUseShare: sum.LandUseShare,
		},
		Destinations: make([]DestinationMessage, 0, len(dests)),
	}
	for _, stop := range dests {
		st := store.Stop(stop)
		out.Destinations = append(out.Destinations, DestinationMessage{
			StopID: st.ID,
			Name:   st.Name,
			Entries: lo.Map(p.Entries(stop), func(e router.Entry, _ int) EntryMessage {
				return EntryMessage{
					Departure:     algo.FormatClock(e.Departure),
					Arrival:       algo.FormatClock(e.Vector.Arrival),
					TravelSeconds: e.TravelTime(),
					Transfers:     e.Vector.Transfers,
					Distance:      e.Vector.Distance,
					LandUse:       e.Vector.LandUse,
					Legs:          r.DescribeLegs(e.Legs),
				}
			}),
		})
	}
	return out, nil
}

func (s *AccessibilityServer) GetNetworkInfo(
	ctx context.Context,
	req *connect.Request[GetNetworkInfoRequest],
) (*connect.Response[GetNetworkInfoResponse], error) {
	s.wait()
	r := s.Router()
	store := r.Store()
	stats := store.Stats()
	return connect.NewResponse(&GetNetworkInfoResponse{
		Dataset:   store.Dataset(),
		Version:   store.Version(),
		Stops:     stats.Stops,
		Routes:    stats.Routes,
		Trips:     stats.Trips,
		Transfers: stats.Transfers,
		Queries:   r.Queries(),
	}), nil
}

// Reload 暂停服务并替换网络，进行中的请求继续使用旧网络
func (s *AccessibilityServer) Reload(store *network.Store) {
	s.Suspend()
	defer s.Resume()
	s.mu.Lock()
	s.router = router.New(store, router.WithWorkers(s.defaults.Workers))
	s.generation++
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Purge()
	}
	log.Infof("network reloaded: %+v", store.Stats())
}

// 暂停服务
func (s *AccessibilityServer) Suspend() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = false
}

// 恢复服务
func (s *AccessibilityServer) Resume() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = true
	s.cond.Broadcast()
}

// 关闭服务
func (s *AccessibilityServer) Close() {
	if s.cache != nil {
		s.cache.Purge()
	}
}
