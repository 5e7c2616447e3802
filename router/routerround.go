package router

import (
	"fmt"
	"slices"
	"time"

	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router/algo"
)

type engineState int8

const (
	stateInit engineState = iota
	stateScanRoutes
	stateRelaxTransfers
	stateDone
)

// 线路扫描时随车携带的部分行程
type bagEntry struct {
	parent    algo.LabelID
	trip      int32
	boardPos  int32
	transfers int32
	distance  int32
	landUse   float64
}

// 站点标记集合
type stopMarks struct {
	marked []bool
	list   []network.StopIdx
}

func newStopMarks(n int) stopMarks {
	return stopMarks{marked: make([]bool, n)}
}

func (m *stopMarks) mark(stop network.StopIdx) {
	if !m.marked[stop] {
		m.marked[stop] = true
		m.list = append(m.list, stop)
	}
}

func (m *stopMarks) reset() {
	for _, s := range m.list {
		m.marked[s] = false
	}
	m.list = m.list[:0]
}

func (m *stopMarks) sorted() []network.StopIdx {
	slices.Sort(m.list)
	return m.list
}

// RoundEngine 按轮次交替扫描线路与松弛换乘的多目标搜索
// 同一个RoundEngine不能被并发使用，每次Run都会分配新的标签集合
type RoundEngine struct {
	store *network.Store
	opts  EngineOptions

	arena     *algo.Arena
	labels    *algo.LabelSet
	departure int32
	latest    int32

	prev stopMarks
	cur  stopMarks
	// route -> 本轮最早需要扫描的站位，-1表示不扫描
	routeStart []int32
	routes     []network.RouteIdx
	bag        []bagEntry
	// 本轮开始时各上车站点上一轮产生的标签，扫描中被剪枝的标签仍可上车
	boardable [][]algo.LabelID
	// 本轮乘车到达、待松弛的标签
	pending []algo.LabelID
}

func NewRoundEngine(store *network.Store, opts EngineOptions) *RoundEngine {
	routeStart := make([]int32, store.NumRoutes())
	for i := range routeStart {
		routeStart[i] = -1
	}
	return &RoundEngine{
		store:      store,
		opts:       opts,
		prev:       newStopMarks(store.NumStops()),
		cur:        newStopMarks(store.NumStops()),
		routeStart: routeStart,
		boardable:  make([][]algo.LabelID, store.NumStops()),
	}
}

// Run 从origin在departure时刻出发，计算到所有站点的Pareto标签
// 索引损坏导致的panic会被转为StructuralError
func (e *RoundEngine) Run(origin network.StopIdx, departure int32) (res *RunResult, err error) {
	if origin < 0 || int(origin) >= e.store.NumStops() {
		return nil, &network.UnknownStopError{StopID: fmt.Sprintf("#%d", origin)}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("run from %q at %s aborted: %v", e.store.Stop(origin).ID, algo.FormatClock(departure), r)
			res = nil
			err = &network.StructuralError{
				Entity: "network",
				ID:     e.store.Dataset(),
				Reason: fmt.Sprintf("run aborted: %v", r),
			}
		}
		e.prev.reset()
		e.cur.reset()
		for _, r := range e.routes {
			e.routeStart[r] = -1
		}
		e.routes = e.routes[:0]
		e.arena, e.labels = nil, nil
	}()

	e.arena = algo.NewArena(4 * e.store.NumStops())
	e.labels = algo.NewLabelSet(e.arena, e.store.NumStops())
	e.departure = departure
	e.latest = algo.Infinity
	if e.opts.MaxDuration > 0 {
		e.latest = algo.SatAdd(departure, e.opts.MaxDuration)
	}

	res = &RunResult{Origin: origin, Departure: departure, Labels: e.labels}
	round := int32(0)
	state := stateInit
	for state != stateDone {
		switch state {
		case stateInit:
			e.init(origin)
			state = e.next(res, round)
		case stateScanRoutes:
			round++
			e.scanRoutes(round)
			state = stateRelaxTransfers
		case stateRelaxTransfers:
			e.relaxTransfers(round)
			state = e.next(res, round)
		}
	}
	res.Rounds = int(round)
	return res, nil
}

// 一轮结束后的状态转移
func (e *RoundEngine) next(res *RunResult, round int32) engineState {
	// 本轮标记的站点成为下一轮的上车点
	e.prev, e.cur = e.cur, e.prev
	e.cur.reset()
	switch {
	case len(e.prev.list) == 0:
		res.Status = StatusConverged
		return stateDone
	case int(round) >= e.opts.MaxRounds:
		res.Status = StatusRoundLimit
		return stateDone
	case !e.opts.Deadline.IsZero() && time.Now().After(e.opts.Deadline):
		res.Status = StatusTimeLimit
		return stateDone
	}
	return stateScanRoutes
}

func (e *RoundEngine) landUse(carried float64, stop network.StopIdx) float64 {
	if e.opts.LandUseMode == LandUseCumulative {
		return carried + e.store.LandUse(stop)
	}
	return e.store.LandUse(stop)
}

// 候选标签若未被支配则写入arena并插入集合
func (e *RoundEngine) offer(l algo.Label) bool {
	if l.Vec.Arrival > e.latest || e.labels.Dominated(l.Stop, l.Vec) {
		return false
	}
	id := e.arena.Add(l)
	if !e.labels.TryInsert(l.Stop, id) {
		return false
	}
	e.cur.mark(l.Stop)
	return true
}

func (e *RoundEngine) init(origin network.StopIdx) {
	id := e.arena.Add(algo.Label{
		Vec: algo.Vector{
			Arrival: e.departure,
			LandUse: e.landUse(0, origin),
		},
		Kind:   algo.KindOrigin,
		Parent: algo.NoLabel,
		Stop:   origin,
	})
	e.labels.TryInsert(origin, id)
	e.cur.mark(origin)
	// 首次上车前的接驳
	e.relaxFrom(id, 0)
}

func (e *RoundEngine) scanRoutes(round int32) {
	for _, stop := range e.prev.sorted() {
		ids := e.boardable[stop][:0]
		for _, id := range e.labels.IDs(stop) {
			if e.arena.Get(id).Round == round-1 {
				ids = append(ids, id)
			}
		}
		e.boardable[stop] = ids
		for _, rs := range e.store.RoutesServing(stop) {
			start := &e.routeStart[rs.Route]
			if *start < 0 {
				e.routes = append(e.routes, rs.Route)
				*start = int32(rs.Position)
			} else if int32(rs.Position) < *start {
				*start = int32(rs.Position)
			}
		}
	}
	slices.Sort(e.routes)
	for _, r := range e.routes {
		e.scanRoute(r, e.routeStart[r], round)
		e.routeStart[r] = -1
	}
	e.routes = e.routes[:0]
}

func (e *RoundEngine) scanRoute(r network.RouteIdx, start int32, round int32) {
	route := e.store.Route(r)
	n := int32(len(route.Stops))
	e.bag = e.bag[:0]
	for pos := start; pos < n; pos++ {
		stop := route.Stops[pos]
		// 先下车
		for _, en := range e.bag {
			trip := &route.Trips[en.trip]
			e.offer(algo.Label{
				Vec: algo.Vector{
					Arrival:   trip.Arrivals[pos],
					Transfers: en.transfers,
					Distance:  en.distance,
					LandUse:   e.landUse(en.landUse, stop),
				},
				Round:     round,
				Kind:      algo.KindTrip,
				Boarded:   true,
				Parent:    en.parent,
				Stop:      stop,
				Route:     r,
				Trip:      en.trip,
				BoardPos:  en.boardPos,
				AlightPos: pos,
			})
		}
		// 再上车
		if pos < n-1 && e.prev.marked[stop] {
			e.board(r, pos, stop, round)
		}
	}
}

func (e *RoundEngine) board(r network.RouteIdx, pos int32, stop network.StopIdx, round int32) {
	ids := e.boardable[stop]
	last, ok := e.store.LastDeparture(r, int(pos))
	if !ok || len(ids) == 0 {
		return
	}
	trips := e.store.TripsOf(r)
	entryVec := func(en bagEntry) algo.Vector {
		return algo.Vector{
			Arrival:   trips[en.trip].Departures[pos],
			Transfers: en.transfers,
			Distance:  en.distance,
			LandUse:   en.landUse,
		}
	}
	for _, id := range ids {
		l := e.arena.Get(id)
		if l.Vec.Arrival > last {
			continue
		}
		ready := l.Vec.Arrival
		if l.Kind == algo.KindTrip {
			ready = algo.SatAdd(ready, e.opts.MinChangeTime)
		}
		trip, ok := e.store.EarliestTripAt(r, int(pos), ready)
		if !ok {
			continue
		}
		transfers := l.Vec.Transfers
		if l.Boarded {
			transfers = algo.SatAdd(transfers, 1)
		}
		var carried float64
		if e.opts.LandUseMode == LandUseCumulative {
			carried = l.Vec.LandUse
		}
		e.bag, _, _ = algo.Merge(e.bag, bagEntry{
			parent:    id,
			trip:      int32(trip),
			boardPos:  pos,
			transfers: transfers,
			distance:  l.Vec.Distance,
			landUse:   carried,
		}, entryVec)
	}
}

// 本轮乘车到达的标签沿换乘边扩展一次，不连续换乘
// 先收集全部待松弛标签，同轮的换乘标签剪枝掉的乘车标签仍会被松弛
func (e *RoundEngine) relaxTransfers(round int32) {
	e.pending = e.pending[:0]
	for _, stop := range e.cur.sorted() {
		if len(e.store.TransfersFrom(stop)) == 0 {
			continue
		}
		for _, id := range e.labels.IDs(stop) {
			l := e.arena.Get(id)
			if l.Round == round && l.Kind == algo.KindTrip {
				e.pending = append(e.pending, id)
			}
		}
	}
	for _, id := range e.pending {
		e.relaxFrom(id, round)
	}
}

func (e *RoundEngine) relaxFrom(id algo.LabelID, round int32) {
	from := *e.arena.Get(id)
	edges := e.store.TransfersFrom(from.Stop)
	for i := range edges {
		edge := &edges[i]
		cost := edge.Duration
		if edge.HasBikeShare() {
			cost = algo.SatAdd(cost, edge.BikeShare.Pickup+edge.BikeShare.Dropoff)
		}
		e.offer(algo.Label{
			Vec: algo.Vector{
				Arrival:   algo.SatAdd(from.Vec.Arrival, cost),
				Transfers: from.Vec.Transfers,
				Distance:  algo.SatAdd(from.Vec.Distance, edge.Distance),
				LandUse:   e.landUse(from.Vec.LandUse, edge.To),
			},
			Round:   round,
			Kind:    algo.KindTransfer,
			Boarded: from.Boarded,
			Parent:  id,
			Stop:    edge.To,
			Edge:    edge,
		})
	}
}
