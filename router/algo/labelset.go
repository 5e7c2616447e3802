package algo

import (
	"slices"

	"git.fiblab.net/sim/accessibility/network"
	"github.com/samber/lo"
)

// LabelSet 每个站点上的非支配标签集合
// 只做追加与剪枝，被接受的标签不会被原地修改
type LabelSet struct {
	arena   *Arena
	bags    [][]LabelID
	best    []int32
	reached []network.StopIdx
}

func NewLabelSet(arena *Arena, numStops int) *LabelSet {
	best := make([]int32, numStops)
	for i := range best {
		best[i] = Infinity
	}
	return &LabelSet{
		arena: arena,
		bags:  make([][]LabelID, numStops),
		best:  best,
	}
}

func (s *LabelSet) vec(id LabelID) Vector {
	return s.arena.labels[id].Vec
}

// TryInsert 按支配关系将标签并入stop的集合，返回是否被接受
func (s *LabelSet) TryInsert(stop network.StopIdx, id LabelID) bool {
	bag := s.bags[stop]
	wasEmpty := len(bag) == 0
	out, ok, _ := Merge(bag, id, s.vec)
	if !ok {
		return false
	}
	s.bags[stop] = out
	if wasEmpty {
		s.reached = append(s.reached, stop)
	}
	if arr := s.vec(id).Arrival; arr < s.best[stop] {
		s.best[stop] = arr
	}
	return true
}

// Dominated 判断vec是否会被stop上已有的标签拒绝
func (s *LabelSet) Dominated(stop network.StopIdx, v Vector) bool {
	for _, id := range s.bags[stop] {
		if mv := s.vec(id); mv == v || Dominates(mv, v) {
			return true
		}
	}
	return false
}

// IDs 返回stop上的标签下标，按发现顺序，调用方不得修改
func (s *LabelSet) IDs(stop network.StopIdx) []LabelID {
	return s.bags[stop]
}

// Frontier 返回stop上标签的副本
func (s *LabelSet) Frontier(stop network.StopIdx) []Label {
	return lo.Map(s.bags[stop], func(id LabelID, _ int) Label {
		return s.arena.labels[id]
	})
}

// BestArrival stop上最早的到达时间，未到达时为Infinity
func (s *LabelSet) BestArrival(stop network.StopIdx) int32 {
	return s.best[stop]
}

// Reached 至少有一个标签的站点，升序
func (s *LabelSet) Reached() []network.StopIdx {
	out := slices.Clone(s.reached)
	slices.Sort(out)
	return out
}

func (s *LabelSet) Arena() *Arena {
	return s.arena
}
