package network

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

const (
	// 每个站点保留的换乘边上限
	DefaultMaxTransfersPerStop = 64
)

type storeConfig struct {
	maxTransfersPerStop int
}

type StoreOption func(*storeConfig)

// WithMaxTransfersPerStop 限制每个站点的出边数量，超出部分按用时从长到短丢弃；n<=0表示不限制
func WithMaxTransfersPerStop(n int) StoreOption {
	return func(c *storeConfig) {
		c.maxTransfersPerStop = n
	}
}

// Store 只读的网络快照索引
// 构建完成后不再修改，可被多个路由任务无锁并发读取
type Store struct {
	version int32
	dataset string

	stops      []Stop
	stopIndex  map[string]StopIdx
	routes     []Route
	routeIndex map[string]RouteIdx
	// stop -> 经过它的线路
	serving [][]RouteStop
	// stop -> 出发的换乘边
	transfers [][]TransferEdge

	tripCount     int
	transferCount int
}

type Stats struct {
	Stops     int
	Routes    int
	Trips     int
	Transfers int
}

func NewStore(snap *Snapshot, opts ...StoreOption) (*Store, error) {
	if snap == nil {
		return nil, structural("snapshot", "", "nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, &VersionMismatchError{Got: snap.Version, Want: SnapshotVersion}
	}
	cfg := storeConfig{maxTransfersPerStop: DefaultMaxTransfersPerStop}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Store{
		version:    snap.Version,
		dataset:    snap.Dataset,
		stopIndex:  make(map[string]StopIdx, len(snap.Stops)),
		routeIndex: make(map[string]RouteIdx, len(snap.Routes)),
	}
	if err := s.initStops(snap.Stops); err != nil {
		return nil, err
	}
	if err := s.initLandUse(snap.LandUse); err != nil {
		return nil, err
	}
	if err := s.initRoutes(snap.Routes); err != nil {
		return nil, err
	}
	if err := s.initTransfers(snap.Transfers, cfg.maxTransfersPerStop); err != nil {
		return nil, err
	}
	log.Infof("network %q loaded: %d stops, %d routes, %d trips, %d transfers",
		s.dataset, len(s.stops), len(s.routes), s.tripCount, s.transferCount)
	return s, nil
}

func (s *Store) initStops(records []StopRecord) error {
	s.stops = make([]Stop, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return structural("stop", "", "empty id at index %d", i)
		}
		if _, ok := s.stopIndex[rec.ID]; ok {
			return structural("stop", rec.ID, "duplicate id")
		}
		s.stopIndex[rec.ID] = StopIdx(len(s.stops))
		s.stops = append(s.stops, Stop{
			ID:       rec.ID,
			Name:     rec.Name,
			Location: orb.Point{rec.Lon, rec.Lat},
		})
	}
	s.serving = make([][]RouteStop, len(s.stops))
	s.transfers = make([][]TransferEdge, len(s.stops))
	return nil
}

func (s *Store) initLandUse(records []LandUseRecord) error {
	for _, rec := range records {
		idx, ok := s.stopIndex[rec.StopID]
		if !ok {
			return structural("land_use", rec.StopID, "dangling stop reference")
		}
		if math.IsNaN(rec.Score) || math.IsInf(rec.Score, 0) {
			return structural("land_use", rec.StopID, "score %v is not finite", rec.Score)
		}
		s.stops[idx].LandUse = rec.Score
	}
	return nil
}

func (s *Store) initRoutes(records []RouteRecord) error {
	tripIDs := make(map[string]string)
	for _, rec := range records {
		if rec.ID == "" {
			return structural("route", "", "empty id")
		}
		if _, ok := s.routeIndex[rec.ID]; ok {
			return structural("route", rec.ID, "duplicate id")
		}
		n := len(rec.StopIDs)
		if n < 2 {
			return structural("route", rec.ID, "needs at least 2 stops, got %d", n)
		}
		stops := make([]StopIdx, n)
		seen := make(map[StopIdx]int, n)
		for pos, stopID := range rec.StopIDs {
			idx, ok := s.stopIndex[stopID]
			if !ok {
				return structural("route", rec.ID, "dangling stop reference %q at position %d", stopID, pos)
			}
			// 清洗阶段本应去除环线，这里再检查一次
			if prev, dup := seen[idx]; dup {
				return structural("route", rec.ID, "stop %q visited twice (positions %d and %d)", stopID, prev, pos)
			}
			seen[idx] = pos
			stops[pos] = idx
		}
		trips := make([]Trip, 0, len(rec.Trips))
		for _, tr := range rec.Trips {
			if tr.ID == "" {
				return structural("trip", "", "empty id in route %q", rec.ID)
			}
			if other, dup := tripIDs[tr.ID]; dup {
				return structural("trip", tr.ID, "duplicate id (routes %q and %q)", other, rec.ID)
			}
			tripIDs[tr.ID] = rec.ID
			if err := checkTrip(tr, n); err != nil {
				return err
			}
			trips = append(trips, Trip{ID: tr.ID, Arrivals: tr.Arrivals, Departures: tr.Departures})
		}
		if len(trips) == 0 {
			log.Warnf("route %q has no trips, skipped", rec.ID)
			continue
		}
		groups := splitOvertaking(trips)
		if len(groups) > 1 {
			log.Infof("route %q has overtaking trips, split into %d routes", rec.ID, len(groups))
		}
		for k, group := range groups {
			id := rec.ID
			if k > 0 {
				id = fmt.Sprintf("%s#%d", rec.ID, k+1)
				if _, ok := s.routeIndex[id]; ok {
					return structural("route", id, "duplicate id (split from %q)", rec.ID)
				}
			}
			route := Route{ID: id, Name: rec.Name, Stops: stops, Trips: group}
			buildDepartureIndex(&route)
			idx := RouteIdx(len(s.routes))
			s.routeIndex[id] = idx
			s.routes = append(s.routes, route)
			for pos, stop := range stops {
				s.serving[stop] = append(s.serving[stop], RouteStop{Route: idx, Position: pos})
			}
		}
		s.tripCount += len(trips)
	}
	return nil
}

// a在每个站位都不晚于b出发和到达
func notAfter(a, b *Trip) bool {
	for i := range a.Departures {
		if a.Arrivals[i] > b.Arrivals[i] || a.Departures[i] > b.Departures[i] {
			return false
		}
	}
	return true
}

// splitOvertaking 将trip分组，组内任意两个trip互不超车
// 每个trip放入第一个末尾trip不晚于它的组，都不满足时新建一组
func splitOvertaking(trips []Trip) [][]Trip {
	sort.SliceStable(trips, func(i, j int) bool {
		a, b := &trips[i], &trips[j]
		for q := range a.Departures {
			if a.Departures[q] != b.Departures[q] {
				return a.Departures[q] < b.Departures[q]
			}
			if a.Arrivals[q] != b.Arrivals[q] {
				return a.Arrivals[q] < b.Arrivals[q]
			}
		}
		return a.ID < b.ID
	})
	var groups [][]Trip
	for i := range trips {
		placed := false
		for g := range groups {
			if notAfter(&groups[g][len(groups[g])-1], &trips[i]) {
				groups[g] = append(groups[g], trips[i])
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []Trip{trips[i]})
		}
	}
	return groups
}

// 同一trip内的站点事件必须严格递增
func checkTrip(tr TripRecord, n int) error {
	if len(tr.Arrivals) != n || len(tr.Departures) != n {
		return structural("trip", tr.ID, "has %d arrivals and %d departures for %d stops",
			len(tr.Arrivals), len(tr.Departures), n)
	}
	for i := 0; i < n; i++ {
		if tr.Arrivals[i] < 0 {
			return structural("trip", tr.ID, "negative arrival %d at position %d", tr.Arrivals[i], i)
		}
		if tr.Departures[i] < tr.Arrivals[i] {
			return structural("trip", tr.ID, "departs (%d) before arriving (%d) at position %d",
				tr.Departures[i], tr.Arrivals[i], i)
		}
		if i+1 < n && tr.Arrivals[i+1] <= tr.Departures[i] {
			return structural("trip", tr.ID, "stop events not strictly increasing at position %d (%d -> %d)",
				i, tr.Departures[i], tr.Arrivals[i+1])
		}
	}
	return nil
}

// 为每个站位预计算按出发时间排序的trip
// 出发时间相同时，取后续站点中最先出现差异的那一站到达更早者
func buildDepartureIndex(route *Route) {
	n := len(route.Stops)
	trips := route.Trips
	route.order = make([][]int32, n)
	route.deps = make([][]int32, n)
	// 终点站不可上车
	for pos := 0; pos < n-1; pos++ {
		order := lo.Map(lo.Range(len(trips)), func(i int, _ int) int32 { return int32(i) })
		sort.SliceStable(order, func(a, b int) bool {
			ta, tb := &trips[order[a]], &trips[order[b]]
			if ta.Departures[pos] != tb.Departures[pos] {
				return ta.Departures[pos] < tb.Departures[pos]
			}
			for q := pos + 1; q < n; q++ {
				if ta.Arrivals[q] != tb.Arrivals[q] {
					return ta.Arrivals[q] < tb.Arrivals[q]
				}
			}
			return order[a] < order[b]
		})
		route.order[pos] = order
		route.deps[pos] = lo.Map(order, func(i int32, _ int) int32 { return trips[i].Departures[pos] })
	}
}

func (s *Store) initTransfers(records []TransferRecord, maxPerStop int) error {
	for _, rec := range records {
		id := fmt.Sprintf("%s->%s", rec.From, rec.To)
		from, ok := s.stopIndex[rec.From]
		if !ok {
			return structural("transfer", id, "dangling stop reference %q", rec.From)
		}
		to, ok := s.stopIndex[rec.To]
		if !ok {
			return structural("transfer", id, "dangling stop reference %q", rec.To)
		}
		if from == to {
			return structural("transfer", id, "self loop")
		}
		if rec.Duration < 0 || rec.Distance < 0 || rec.Pickup < 0 || rec.Dropoff < 0 {
			return structural("transfer", id, "negative cost")
		}
		mode, ok := ParseTransferMode(rec.Mode)
		if !ok {
			return structural("transfer", id, "unknown mode %q", rec.Mode)
		}
		edge := TransferEdge{
			From:     from,
			To:       to,
			Mode:     mode,
			Duration: rec.Duration,
			Distance: rec.Distance,
		}
		if mode == ModeBikeShare {
			edge.BikeShare = &BikeShareCost{StationID: rec.StationID, Pickup: rec.Pickup, Dropoff: rec.Dropoff}
		}
		s.transfers[from] = append(s.transfers[from], edge)
	}
	for stop, edges := range s.transfers {
		sort.SliceStable(edges, func(i, j int) bool {
			ti, tj := edges[i].TravelTime(), edges[j].TravelTime()
			if ti != tj {
				return ti < tj
			}
			if edges[i].Distance != edges[j].Distance {
				return edges[i].Distance < edges[j].Distance
			}
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].Mode < edges[j].Mode
		})
		if maxPerStop > 0 && len(edges) > maxPerStop {
			log.Warnf("stop %q has %d transfers, keeping the %d shortest", s.stops[stop].ID, len(edges), maxPerStop)
			edges = edges[:maxPerStop]
		}
		s.transfers[stop] = edges
		s.transferCount += len(edges)
	}
	return nil
}

// getter

func (s *Store) Version() int32 {
	return s.version
}

func (s *Store) Dataset() string {
	return s.dataset
}

func (s *Store) Stats() Stats {
	return Stats{Stops: len(s.stops), Routes: len(s.routes), Trips: s.tripCount, Transfers: s.transferCount}
}

func (s *Store) NumStops() int {
	return len(s.stops)
}

// Stops 返回全部站点，调用方不得修改
func (s *Store) Stops() []Stop {
	return s.stops
}

func (s *Store) Stop(idx StopIdx) *Stop {
	return &s.stops[idx]
}

func (s *Store) StopIndex(id string) (StopIdx, bool) {
	idx, ok := s.stopIndex[id]
	return idx, ok
}

// LookupStop 与StopIndex相同，但未知站点返回*UnknownStopError
func (s *Store) LookupStop(id string) (StopIdx, error) {
	if idx, ok := s.stopIndex[id]; ok {
		return idx, nil
	}
	return NoStop, &UnknownStopError{StopID: id}
}

func (s *Store) LandUse(idx StopIdx) float64 {
	return s.stops[idx].LandUse
}

func (s *Store) NumRoutes() int {
	return len(s.routes)
}

func (s *Store) Route(idx RouteIdx) *Route {
	return &s.routes[idx]
}

func (s *Store) RouteIndex(id string) (RouteIdx, bool) {
	idx, ok := s.routeIndex[id]
	return idx, ok
}

func (s *Store) RoutesServing(stop StopIdx) []RouteStop {
	return s.serving[stop]
}

// TripsOf 按首站出发时间排序
func (s *Store) TripsOf(route RouteIdx) []Trip {
	return s.routes[route].Trips
}

// EarliestTripAfter 返回route上在stop处出发时间>=t的第一个trip
func (s *Store) EarliestTripAfter(route RouteIdx, stop StopIdx, t int32) (int, bool) {
	for _, rs := range s.serving[stop] {
		if rs.Route == route {
			return s.EarliestTripAt(route, rs.Position, t)
		}
	}
	return -1, false
}

// EarliestTripAt 同EarliestTripAfter，但直接给出站位
func (s *Store) EarliestTripAt(route RouteIdx, pos int, t int32) (int, bool) {
	r := &s.routes[route]
	deps := r.deps[pos]
	i := sort.Search(len(deps), func(i int) bool {
		return deps[i] >= t
	})
	if i == len(deps) {
		return -1, false
	}
	return int(r.order[pos][i]), true
}

// LastDeparture 站位上最晚的出发时间，终点站返回false
func (s *Store) LastDeparture(route RouteIdx, pos int) (int32, bool) {
	deps := s.routes[route].deps[pos]
	if len(deps) == 0 {
		return 0, false
	}
	return deps[len(deps)-1], true
}

func (s *Store) TransfersFrom(stop StopIdx) []TransferEdge {
	return s.transfers[stop]
}
