package network

import (
	"github.com/paulmach/orb"
)

// 快照格式版本，与引擎不一致时拒绝加载
const SnapshotVersion int32 = 3

type StopIdx int32
type RouteIdx int32

const NoStop StopIdx = -1

// 换乘边的方式
type TransferMode int8

const (
	ModeFoot TransferMode = iota
	ModeBikeShare
)

func (m TransferMode) String() string {
	switch m {
	case ModeFoot:
		return "foot"
	case ModeBikeShare:
		return "bike_share"
	default:
		return "unknown"
	}
}

func ParseTransferMode(s string) (TransferMode, bool) {
	switch s {
	case "", "foot", "walk":
		return ModeFoot, true
	case "bike_share", "bike":
		return ModeBikeShare, true
	default:
		return ModeFoot, false
	}
}

// ---- 快照表（外部build-structures阶段的产物） ----

type Snapshot struct {
	Version   int32            `bson:"version"`
	Dataset   string           `bson:"dataset"`
	Stops     []StopRecord     `bson:"stops"`
	Routes    []RouteRecord    `bson:"routes"`
	Transfers []TransferRecord `bson:"transfers"`
	LandUse   []LandUseRecord  `bson:"land_use"`
}

type StopRecord struct {
	ID   string  `bson:"id"`
	Name string  `bson:"name,omitempty"`
	Lon  float64 `bson:"lon"`
	Lat  float64 `bson:"lat"`
}

// 同一stop pattern的trip归为一条route
type RouteRecord struct {
	ID      string       `bson:"id"`
	Name    string       `bson:"name,omitempty"`
	StopIDs []string     `bson:"stop_ids"`
	Trips   []TripRecord `bson:"trips"`
}

type TripRecord struct {
	ID         string  `bson:"id"`
	Arrivals   []int32 `bson:"arrivals"`
	Departures []int32 `bson:"departures"`
}

type TransferRecord struct {
	From     string `bson:"from"`
	To       string `bson:"to"`
	Mode     string `bson:"mode,omitempty"`
	Duration int32  `bson:"duration"` // s
	Distance int32  `bson:"distance"` // m
	// 仅共享单车
	StationID string `bson:"station_id,omitempty"`
	Pickup    int32  `bson:"pickup,omitempty"`
	Dropoff   int32  `bson:"dropoff,omitempty"`
}

type LandUseRecord struct {
	StopID string  `bson:"stop_id"`
	Score  float64 `bson:"score"`
}

// ---- 运行时结构 ----

type Stop struct {
	ID       string
	Name     string
	Location orb.Point
	LandUse  float64
}

type Route struct {
	ID    string
	Name  string
	Stops []StopIdx
	Trips []Trip // 按首站出发时间排序

	// 每个站位上trip按出发时间排序的下标及对应出发时间
	order [][]int32
	deps  [][]int32
}

type Trip struct {
	ID         string
	Arrivals   []int32
	Departures []int32
}

// 经过某站点的线路及站点在线路中的位置
type RouteStop struct {
	Route    RouteIdx
	Position int
}

type BikeShareCost struct {
	StationID string
	Pickup    int32
	Dropoff   int32
}

type TransferEdge struct {
	From      StopIdx
	To        StopIdx
	Mode      TransferMode
	Duration  int32
	Distance  int32
	BikeShare *BikeShareCost
}

func (e *TransferEdge) HasBikeShare() bool {
	return e.BikeShare != nil
}

// 通过该边的总用时（含取还车）
func (e *TransferEdge) TravelTime() int32 {
	t := e.Duration
	if e.HasBikeShare() {
		t += e.BikeShare.Pickup + e.BikeShare.Dropoff
	}
	return t
}
