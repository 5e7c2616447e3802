// Package networktest 构造小型网络快照，供各包测试使用
package networktest

import (
	"fmt"

	"git.fiblab.net/sim/accessibility/network"
)

// HM 将时:分转换为秒
func HM(h, m int) int32 {
	return int32(h*3600 + m*60)
}

type Builder struct {
	snap network.Snapshot
}

func New() *Builder {
	return &Builder{snap: network.Snapshot{Version: network.SnapshotVersion, Dataset: "test"}}
}

func (b *Builder) Stop(id string, lon, lat float64) *Builder {
	b.snap.Stops = append(b.snap.Stops, network.StopRecord{ID: id, Name: "stop " + id, Lon: lon, Lat: lat})
	return b
}

// Stops 批量添加站点，坐标沿经线排开，彼此相距约1km
func (b *Builder) Stops(ids ...string) *Builder {
	for _, id := range ids {
		b.Stop(id, 116.3, 39.9+0.01*float64(len(b.snap.Stops)))
	}
	return b
}

func (b *Builder) LandUse(stopID string, score float64) *Builder {
	b.snap.LandUse = append(b.snap.LandUse, network.LandUseRecord{StopID: stopID, Score: score})
	return b
}

// Route 添加线路，每个trip的各站到达与出发时间相同
func (b *Builder) Route(id string, stops []string, trips ...network.TripRecord) *Builder {
	b.snap.Routes = append(b.snap.Routes, network.RouteRecord{ID: id, Name: "route " + id, StopIDs: stops, Trips: trips})
	return b
}

func (b *Builder) Walk(from, to string, duration, distance int32) *Builder {
	b.snap.Transfers = append(b.snap.Transfers, network.TransferRecord{
		From: from, To: to, Mode: "foot", Duration: duration, Distance: distance,
	})
	return b
}

func (b *Builder) Bike(from, to, station string, duration, distance, pickup, dropoff int32) *Builder {
	b.snap.Transfers = append(b.snap.Transfers, network.TransferRecord{
		From: from, To: to, Mode: "bike_share", Duration: duration, Distance: distance,
		StationID: station, Pickup: pickup, Dropoff: dropoff,
	})
	return b
}

func (b *Builder) Snapshot() *network.Snapshot {
	snap := b.snap
	return &snap
}

// Build 构造Store，失败时panic
func (b *Builder) Build() *network.Store {
	s, err := network.NewStore(b.Snapshot())
	if err != nil {
		panic(fmt.Sprintf("networktest: %v", err))
	}
	return s
}

// Trip 每站停靠时间为0的trip
func Trip(id string, times ...int32) network.TripRecord {
	return network.TripRecord{
		ID:         id,
		Arrivals:   append([]int32(nil), times...),
		Departures: append([]int32(nil), times...),
	}
}

// DwellTrip 每站停靠dwell秒，times为到达时间
func DwellTrip(id string, dwell int32, times ...int32) network.TripRecord {
	tr := Trip(id, times...)
	for i := range tr.Departures {
		tr.Departures[i] += dwell
	}
	return tr
}
