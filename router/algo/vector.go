package algo

import (
	"fmt"
	"math"
)

// Vector 标签的评价向量
// 到达时间、换乘次数、步行/骑行距离越小越好，土地利用得分越大越好
type Vector struct {
	Arrival   int32   // s
	Transfers int32   // 次
	Distance  int32   // m
	LandUse   float64 // 得分
}

// Unreached 未到达状态，不支配任何可达向量
func Unreached() Vector {
	return Vector{
		Arrival:   Infinity,
		Transfers: Infinity,
		Distance:  Infinity,
		LandUse:   math.Inf(-1),
	}
}

func (v Vector) Reached() bool {
	return v.Arrival != Infinity
}

func (v Vector) String() string {
	return fmt.Sprintf("(arr=%s, transfers=%d, dist=%dm, land_use=%.3f)",
		FormatClock(v.Arrival), v.Transfers, v.Distance, v.LandUse)
}

// SatAdd 饱和加法，任一参数为Infinity或结果溢出时返回Infinity
func SatAdd(a, b int32) int32 {
	if a == Infinity || b == Infinity {
		return Infinity
	}
	s := int64(a) + int64(b)
	if s >= int64(Infinity) {
		return Infinity
	}
	return int32(s)
}

// Dominates a在所有维度上不差于b，且至少一个维度严格更好
func Dominates(a, b Vector) bool {
	if a.Arrival > b.Arrival || a.Transfers > b.Transfers || a.Distance > b.Distance || a.LandUse < b.LandUse {
		return false
	}
	return a.Arrival < b.Arrival || a.Transfers < b.Transfers || a.Distance < b.Distance || a.LandUse > b.LandUse
}

// Merge 将cand并入Pareto集合set
// cand被某个成员支配或与某个成员相等时拒绝（先发现者保留），否则移除被cand支配的成员后追加到末尾
// set的底层数组会被复用，调用方应使用返回的out
func Merge[T any](set []T, cand T, vec func(T) Vector) (out []T, accepted bool, removed []T) {
	cv := vec(cand)
	for _, m := range set {
		mv := vec(m)
		if mv == cv || Dominates(mv, cv) {
			return set, false, nil
		}
	}
	kept := 0
	for _, m := range set {
		if Dominates(cv, vec(m)) {
			removed = append(removed, m)
			continue
		}
		set[kept] = m
		kept++
	}
	clear(set[kept:])
	return append(set[:kept], cand), true, removed
}

// MergeVectors Merge的向量特化
func MergeVectors(set []Vector, cand Vector) ([]Vector, bool, []Vector) {
	return Merge(set, cand, func(v Vector) Vector { return v })
}
