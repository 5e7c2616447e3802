package router

import (
	"slices"
	"sync/atomic"

	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router/algo"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// Entry 某个目的站点上的一个非支配结果，带出发时刻标签
type Entry struct {
	Vector    algo.Vector
	Departure int32
	Round     int32
	// 仅在WithItineraries时填充
	Legs []Leg

	seq int
}

func (e Entry) TravelTime() int32 {
	return e.Vector.Arrival - e.Departure
}

func entryVector(e Entry) algo.Vector {
	return e.Vector
}

type Summary struct {
	Reachable  int
	TotalStops int
	Coverage   float64
	// 可达站点的土地利用得分之和及其占全网的比例
	LandUse      float64
	LandUseShare float64
}

// Profile 一次范围查询的结果，返回后不再修改
type Profile struct {
	QueryID    uuid.UUID
	Origin     network.StopIdx
	OriginID   string
	Window     TimeRange
	Departures []int32
	// 所有出发时刻中最差的结束状态
	Status Status
	Rounds int

	store   *network.Store
	dests   []network.StopIdx
	entries map[network.StopIdx][]Entry
}

func (p *Profile) BudgetExceeded() bool {
	return p.Status.BudgetExceeded()
}

// Destinations 有结果的站点（含起点），升序
func (p *Profile) Destinations() []network.StopIdx {
	return p.dests
}

// Entries 按出发时刻、再按发现顺序排列，调用方不得修改
func (p *Profile) Entries(stop network.StopIdx) []Entry {
	return p.entries[stop]
}

func (p *Profile) EntriesByID(stopID string) []Entry {
	idx, ok := p.store.StopIndex(stopID)
	if !ok {
		return nil
	}
	return p.entries[idx]
}

// At 在dep时刻出发时到达stop的非支配结果
func (p *Profile) At(stop network.StopIdx, dep int32) []Entry {
	return lo.Filter(p.entries[stop], func(e Entry, _ int) bool {
		return e.Departure == dep
	})
}

// Frontier 忽略出发时刻标签后的Pareto集合，向量相同时保留出发最早者
func (p *Profile) Frontier(stop network.StopIdx) []Entry {
	var out []Entry
	for _, e := range p.entries[stop] {
		out, _, _ = algo.Merge(out, e, entryVector)
	}
	return out
}

// Reachable stop是否有结果
func (p *Profile) Reachable(stop network.StopIdx) bool {
	return len(p.entries[stop]) > 0
}

// Len 全部结果数量
func (p *Profile) Len() int {
	return lo.SumBy(p.dests, func(s network.StopIdx) int { return len(p.entries[s]) })
}

// Summary 出行时间不超过maxTravel秒即视为可达，maxTravel<=0表示不限制
func (p *Profile) Summary(maxTravel int32) Summary {
	sum := Summary{TotalStops: p.store.NumStops()}
	var total float64
	for _, s := range p.store.Stops() {
		total += s.LandUse
	}
	for _, stop := range p.dests {
		ok := lo.ContainsBy(p.entries[stop], func(e Entry) bool {
			return maxTravel <= 0 || e.TravelTime() <= maxTravel
		})
		if !ok {
			continue
		}
		sum.Reachable++
		sum.LandUse += p.store.LandUse(stop)
	}
	if sum.TotalStops > 0 {
		sum.Coverage = float64(sum.Reachable) / float64(sum.TotalStops)
	}
	if total != 0 {
		sum.LandUseShare = sum.LandUse / total
	}
	return sum
}

// ---- 并发汇总 ----

type stopEntries struct {
	byDep map[int32][]Entry
}

// profileBuilder 按目的站点分区，多个出发时刻的结果可并发写入
type profileBuilder struct {
	store       *network.Store
	itineraries bool
	stops       *xsync.MapOf[network.StopIdx, *stopEntries]
	status      atomic.Int32
	rounds      atomic.Int32
}

func newProfileBuilder(store *network.Store, itineraries bool) *profileBuilder {
	return &profileBuilder{
		store:       store,
		itineraries: itineraries,
		stops:       xsync.NewMapOf[network.StopIdx, *stopEntries](),
	}
}

func (b *profileBuilder) add(res *RunResult) {
	arena := res.Arena()
	dep := res.Departure
	for _, stop := range res.Labels.Reached() {
		entries := lo.Map(res.Labels.IDs(stop), func(id algo.LabelID, i int) Entry {
			l := arena.Get(id)
			e := Entry{Vector: l.Vec, Departure: dep, Round: l.Round, seq: i}
			if b.itineraries {
				e.Legs = buildLegs(b.store, arena, id)
			}
			return e
		})
		b.stops.Compute(stop, func(old *stopEntries, loaded bool) (*stopEntries, bool) {
			if !loaded {
				old = &stopEntries{byDep: make(map[int32][]Entry)}
			}
			for _, e := range entries {
				old.byDep[dep], _, _ = algo.Merge(old.byDep[dep], e, entryVector)
			}
			return old, false
		})
	}
	for {
		cur := b.status.Load()
		if int32(res.Status) <= cur || b.status.CompareAndSwap(cur, int32(res.Status)) {
			break
		}
	}
	for {
		cur := b.rounds.Load()
		if int32(res.Rounds) <= cur || b.rounds.CompareAndSwap(cur, int32(res.Rounds)) {
			break
		}
	}
}

// freeze 排序后生成不可变的Profile，结果与写入顺序无关
func (b *profileBuilder) freeze(p *Profile) *Profile {
	p.store = b.store
	p.Status = Status(b.status.Load())
	p.Rounds = int(b.rounds.Load())
	p.entries = make(map[network.StopIdx][]Entry, b.stops.Size())
	b.stops.Range(func(stop network.StopIdx, se *stopEntries) bool {
		deps := lo.Keys(se.byDep)
		slices.Sort(deps)
		var all []Entry
		for _, d := range deps {
			group := se.byDep[d]
			slices.SortStableFunc(group, func(x, y Entry) int { return x.seq - y.seq })
			all = append(all, group...)
		}
		p.entries[stop] = all
		p.dests = append(p.dests, stop)
		return true
	})
	slices.Sort(p.dests)
	return p
}
