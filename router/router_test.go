package router_test

import (
	"context"
	"math"
	"testing"
	"time"

	"git.fiblab.net/sim/accessibility/network"
	nt "git.fiblab.net/sim/accessibility/network/networktest"
	"git.fiblab.net/sim/accessibility/router"
	"git.fiblab.net/sim/accessibility/router/algo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t int32) router.TimeRange {
	return router.TimeRange{Start: t, End: t}
}

func stopIdx(t *testing.T, s *network.Store, id string) network.StopIdx {
	idx, ok := s.StopIndex(id)
	require.True(t, ok, id)
	return idx
}

func vectors(entries []router.Entry) []algo.Vector {
	out := make([]algo.Vector, len(entries))
	for i, e := range entries {
		out[i] = e.Vector
	}
	return out
}

// A -> B -> C 单条线路单个班次
func singleRoute() *network.Store {
	return nt.New().
		Stops("A", "B", "C").
		LandUse("A", 1).
		LandUse("B", 2).
		LandUse("C", 4).
		Route("R1", []string{"A", "B", "C"},
			nt.Trip("t1", nt.HM(8, 0), nt.HM(8, 10), nt.HM(8, 20)),
		).
		Build()
}

// A直达D较慢，经B换乘较快
func competingRoutes() *network.Store {
	return nt.New().
		Stops("A", "B", "D").
		Route("X", []string{"A", "D"}, nt.Trip("x1", nt.HM(8, 30), nt.HM(9, 5))).
		Route("Y", []string{"A", "B"}, nt.Trip("y1", nt.HM(8, 0), nt.HM(8, 20))).
		Route("Z", []string{"B", "D"}, nt.Trip("z1", nt.HM(8, 30), nt.HM(9, 0))).
		Build()
}

func TestSingleRoute(t *testing.T) {
	s := singleRoute()
	r := router.New(s)
	p, err := r.ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 2)
	require.NoError(t, err)

	a, b, c := stopIdx(t, s, "A"), stopIdx(t, s, "B"), stopIdx(t, s, "C")
	assert.Equal(t, []network.StopIdx{a, b, c}, p.Destinations())
	assert.Equal(t, "A", p.OriginID)
	assert.Equal(t, []int32{nt.HM(8, 0)}, p.Departures)

	require.Len(t, p.Entries(a), 1)
	assert.Equal(t, algo.Vector{Arrival: nt.HM(8, 0), LandUse: 1}, p.Entries(a)[0].Vector)

	require.Len(t, p.Entries(b), 1)
	assert.Equal(t, nt.HM(8, 10), p.Entries(b)[0].Vector.Arrival)
	assert.Equal(t, int32(0), p.Entries(b)[0].Vector.Transfers)
	assert.Equal(t, 2.0, p.Entries(b)[0].Vector.LandUse)

	require.Len(t, p.Entries(c), 1)
	assert.Equal(t, nt.HM(8, 20), p.Entries(c)[0].Vector.Arrival)
	assert.Equal(t, int32(0), p.Entries(c)[0].Vector.Transfers)
	assert.Equal(t, nt.HM(8, 0), p.Entries(c)[0].Departure)
	assert.Equal(t, int32(20*60), p.Entries(c)[0].TravelTime())

	assert.Equal(t, router.StatusConverged, p.Status)
	assert.False(t, p.BudgetExceeded())
	assert.Equal(t, int64(1), r.Queries())
}

func TestCompetingRoutesBothRetained(t *testing.T) {
	s := competingRoutes()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(7, 55)), time.Minute, 2)
	require.NoError(t, err)

	d := stopIdx(t, s, "D")
	assert.ElementsMatch(t, []algo.Vector{
		{Arrival: nt.HM(9, 5), Transfers: 0},
		{Arrival: nt.HM(9, 0), Transfers: 1},
	}, vectors(p.Entries(d)))
	assert.Len(t, p.Frontier(d), 2)
}

func TestRoundLimit(t *testing.T) {
	s := competingRoutes()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(7, 55)), time.Minute, 0)
	require.NoError(t, err)

	d := stopIdx(t, s, "D")
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(9, 5)}}, vectors(p.Entries(d)))
	assert.Equal(t, router.StatusRoundLimit, p.Status)
	assert.True(t, p.BudgetExceeded())
	assert.Equal(t, 1, p.Rounds)
}

func TestMinChangeTime(t *testing.T) {
	s := competingRoutes()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(7, 55)), time.Minute, 2,
		router.WithMinChangeTime(15*time.Minute))
	require.NoError(t, err)
	d := stopIdx(t, s, "D")
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(9, 5)}}, vectors(p.Entries(d)))
}

func TestDominatedAccessPruned(t *testing.T) {
	// A->A2零距离步行，A2的班次与A完全相同但晚2分钟
	s := nt.New().
		Stops("A", "A2", "D").
		Walk("A", "A2", 60, 0).
		Route("R1", []string{"A", "D"}, nt.Trip("r1", nt.HM(8, 0), nt.HM(8, 30))).
		Route("R2", []string{"A2", "D"}, nt.Trip("r2", nt.HM(8, 2), nt.HM(8, 32))).
		Build()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 2,
		router.WithItineraries())
	require.NoError(t, err)

	d := stopIdx(t, s, "D")
	entries := p.Entries(d)
	require.Len(t, entries, 1)
	assert.Equal(t, nt.HM(8, 30), entries[0].Vector.Arrival)
	require.Len(t, entries[0].Legs, 1)
	r1, _ := s.RouteIndex("R1")
	assert.Equal(t, r1, entries[0].Legs[0].Route)

	a2 := stopIdx(t, s, "A2")
	require.Len(t, p.Entries(a2), 1)
	assert.Equal(t, nt.HM(8, 1), p.Entries(a2)[0].Vector.Arrival)
}

func TestWindowKeepsTaggedEntries(t *testing.T) {
	// 8:05出发的快车先于8:00出发的慢车到达
	s := nt.New().
		Stops("A", "B").
		Route("local", []string{"A", "B"}, nt.Trip("l1", nt.HM(8, 0), nt.HM(8, 40))).
		Route("express", []string{"A", "B"}, nt.Trip("e1", nt.HM(8, 5), nt.HM(8, 20))).
		Build()
	window := router.TimeRange{Start: nt.HM(8, 0), End: nt.HM(8, 5)}
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", window, 5*time.Minute, 1)
	require.NoError(t, err)

	b := stopIdx(t, s, "B")
	assert.Equal(t, []int32{nt.HM(8, 0), nt.HM(8, 5)}, p.Departures)
	require.Len(t, p.Entries(b), 2)
	assert.Len(t, p.At(b, nt.HM(8, 0)), 1)
	assert.Len(t, p.At(b, nt.HM(8, 5)), 1)
	assert.Equal(t, nt.HM(8, 0), p.Entries(b)[0].Departure)
	assert.Equal(t, nt.HM(8, 5), p.Entries(b)[1].Departure)
	assert.Equal(t, nt.HM(8, 20), p.At(b, nt.HM(8, 5))[0].Vector.Arrival)

	// 忽略出发时刻后向量相同，保留先出发的
	frontier := p.Frontier(b)
	require.Len(t, frontier, 1)
	assert.Equal(t, nt.HM(8, 0), frontier[0].Departure)

	a := stopIdx(t, s, "A")
	assert.Len(t, p.Entries(a), 2)
}

func TestIsolatedOrigin(t *testing.T) {
	s := nt.New().
		Stops("A", "B", "Z").
		Route("R", []string{"A", "B"}, nt.Trip("t", nt.HM(8, 0), nt.HM(8, 10))).
		Build()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "Z", at(nt.HM(8, 0)), time.Minute, 3)
	require.NoError(t, err)

	z := stopIdx(t, s, "Z")
	assert.Equal(t, []network.StopIdx{z}, p.Destinations())
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 0)}}, vectors(p.Entries(z)))
	assert.Equal(t, router.StatusConverged, p.Status)
}

func TestUnknownOrigin(t *testing.T) {
	p, err := router.New(singleRoute()).ComputeAccessibility(context.Background(), "nope", at(0), time.Minute, 1)
	assert.Nil(t, p)
	var ue *network.UnknownStopError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "nope", ue.StopID)
}

func TestInvalidQuery(t *testing.T) {
	r := router.New(singleRoute())
	ctx := context.Background()
	_, err := r.ComputeAccessibility(ctx, "A", router.TimeRange{Start: 10, End: 5}, time.Minute, 1)
	assert.ErrorIs(t, err, router.ErrInvalidWindow)
	_, err = r.ComputeAccessibility(ctx, "A", router.TimeRange{Start: 0, End: 600}, 0, 1)
	assert.ErrorIs(t, err, router.ErrInvalidStep)
	_, err = r.ComputeAccessibility(ctx, "A", at(0), time.Minute, -1)
	assert.ErrorIs(t, err, router.ErrInvalidTransfers)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	window := router.TimeRange{Start: nt.HM(7, 0), End: nt.HM(9, 0)}
	_, err := router.New(singleRoute()).ComputeAccessibility(ctx, "A", window, time.Minute, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBikeShareTransfers(t *testing.T) {
	s := nt.New().
		Stops("A", "B", "C", "E").
		Bike("A", "C", "s1", 300, 1500, 60, 60).
		Walk("A", "C", 1200, 1400).
		Route("R", []string{"A", "B"}, nt.Trip("t", nt.HM(8, 5), nt.HM(8, 15))).
		Bike("B", "E", "s2", 240, 1000, 30, 30).
		Build()
	r := router.New(s)
	p, err := r.ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 1,
		router.WithItineraries())
	require.NoError(t, err)

	c := stopIdx(t, s, "C")
	assert.ElementsMatch(t, []algo.Vector{
		{Arrival: nt.HM(8, 7), Distance: 1500},
		{Arrival: nt.HM(8, 20), Distance: 1400},
	}, vectors(p.Entries(c)))
	for _, e := range p.Entries(c) {
		require.Len(t, e.Legs, 1)
		if e.Vector.Distance == 1500 {
			assert.Equal(t, network.ModeBikeShare, e.Legs[0].Mode)
			assert.Equal(t, "s1", e.Legs[0].StationID)
		} else {
			assert.Equal(t, network.ModeFoot, e.Legs[0].Mode)
		}
	}

	// 下车后骑行到E：8:15 + 30 + 240 + 30
	e := stopIdx(t, s, "E")
	entries := p.Entries(e)
	require.Len(t, entries, 1)
	assert.Equal(t, nt.HM(8, 20), entries[0].Vector.Arrival)
	assert.Equal(t, int32(1000), entries[0].Vector.Distance)
	require.Len(t, entries[0].Legs, 2)
	assert.Equal(t, algo.KindTrip, entries[0].Legs[0].Kind)
	assert.Equal(t, algo.KindTransfer, entries[0].Legs[1].Kind)

	lines := r.DescribeLegs(entries[0].Legs)
	require.Len(t, lines, 2)
	assert.Equal(t, "08:05:00 A -> B 08:15:00 by R (trip t)", lines[0])
	assert.Equal(t, "08:15:00 B -> E 08:20:00 by bike_share at station s2 (1000m)", lines[1])
}

func TestTransfersNotChained(t *testing.T) {
	s := nt.New().
		Stops("A", "B", "C").
		Walk("A", "B", 60, 80).
		Walk("B", "C", 60, 80).
		Build()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, p.Reachable(stopIdx(t, s, "B")))
	assert.False(t, p.Reachable(stopIdx(t, s, "C")))
}

func TestTransferCounting(t *testing.T) {
	s := nt.New().
		Stops("A", "B", "C", "D").
		Route("R1", []string{"A", "B"}, nt.Trip("t1", nt.HM(8, 0), nt.HM(8, 10))).
		Route("R2", []string{"B", "C"}, nt.Trip("t2", nt.HM(8, 15), nt.HM(8, 25))).
		Route("R3", []string{"C", "D"}, nt.Trip("t3", nt.HM(8, 30), nt.HM(8, 40))).
		Build()
	r := router.New(s)
	ctx := context.Background()

	p, err := r.ComputeAccessibility(ctx, "A", at(nt.HM(8, 0)), time.Minute, 2)
	require.NoError(t, err)
	d := stopIdx(t, s, "D")
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 40), Transfers: 2}}, vectors(p.Entries(d)))

	p, err = r.ComputeAccessibility(ctx, "A", at(nt.HM(8, 0)), time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, p.Reachable(d))
	assert.True(t, p.Reachable(stopIdx(t, s, "C")))
}

func TestLandUseModes(t *testing.T) {
	s := singleRoute()
	c := stopIdx(t, s, "C")
	r := router.New(s)
	ctx := context.Background()

	p, err := r.ComputeAccessibility(ctx, "A", at(nt.HM(8, 0)), time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Entries(c)[0].Vector.LandUse)

	p, err = r.ComputeAccessibility(ctx, "A", at(nt.HM(8, 0)), time.Minute, 1,
		router.WithLandUseMode(router.LandUseCumulative))
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Entries(c)[0].Vector.LandUse)
	assert.Equal(t, 3.0, p.Entries(stopIdx(t, s, "B"))[0].Vector.LandUse)
}

func TestMaxDuration(t *testing.T) {
	s := singleRoute()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 1,
		router.WithMaxDuration(15*time.Minute))
	require.NoError(t, err)
	assert.True(t, p.Reachable(stopIdx(t, s, "B")))
	assert.False(t, p.Reachable(stopIdx(t, s, "C")))
}

func TestSummary(t *testing.T) {
	s := singleRoute()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 1)
	require.NoError(t, err)

	sum := p.Summary(15 * 60)
	assert.Equal(t, 2, sum.Reachable)
	assert.Equal(t, 3, sum.TotalStops)
	assert.InDelta(t, 2.0/3, sum.Coverage, 1e-9)
	assert.Equal(t, 3.0, sum.LandUse)
	assert.InDelta(t, 3.0/7, sum.LandUseShare, 1e-9)

	sum = p.Summary(0)
	assert.Equal(t, 3, sum.Reachable)
	assert.InDelta(t, 1.0, sum.LandUseShare, 1e-9)
}

func TestAccessLabelBoardsAfterPruned(t *testing.T) {
	// O步行20分钟到X，或乘R1 8:10到X；X上R2 8:25出发
	s := nt.New().
		Stops("O", "X", "Y").
		Walk("O", "X", 1200, 1000).
		Route("R1", []string{"O", "X"}, nt.Trip("r1", nt.HM(8, 0), nt.HM(8, 10))).
		Route("R2", []string{"X", "Y"}, nt.Trip("r2", nt.HM(8, 25), nt.HM(8, 40))).
		Build()
	r := router.New(s)
	ctx := context.Background()
	y := stopIdx(t, s, "Y")
	x := stopIdx(t, s, "X")

	p, err := r.ComputeAccessibility(ctx, "O", at(nt.HM(8, 0)), time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 40), Distance: 1000}}, vectors(p.Entries(y)))
	// 步行标签在X上被乘车标签支配
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 10)}}, vectors(p.Entries(x)))

	p, err = r.ComputeAccessibility(ctx, "O", at(nt.HM(8, 0)), time.Minute, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []algo.Vector{
		{Arrival: nt.HM(8, 40), Distance: 1000},
		{Arrival: nt.HM(8, 40), Transfers: 1},
	}, vectors(p.Entries(y)))
}

func TestTripLabelRelaxedAfterPruned(t *testing.T) {
	// W经步行到X比R2直达X更早，但X的乘车标签仍需步行到Y
	s := nt.New().
		Stops("O", "W", "X", "Y").
		Route("R1", []string{"O", "W"}, nt.Trip("r1", nt.HM(8, 0), nt.HM(8, 10))).
		Route("R2", []string{"O", "X"}, nt.Trip("r2", nt.HM(8, 0), nt.HM(8, 20))).
		Walk("W", "X", 300, 0).
		Walk("X", "Y", 300, 100).
		Build()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "O", at(nt.HM(8, 0)), time.Minute, 1)
	require.NoError(t, err)

	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 15)}}, vectors(p.Entries(stopIdx(t, s, "X"))))
	assert.Equal(t, []algo.Vector{{Arrival: nt.HM(8, 25), Distance: 100}}, vectors(p.Entries(stopIdx(t, s, "Y"))))
}

func TestOvertakingTripReachable(t *testing.T) {
	s := nt.New().
		Stops("A", "B").
		Route("R", []string{"A", "B"},
			nt.Trip("local", nt.HM(8, 0), nt.HM(8, 40)),
			nt.Trip("express", nt.HM(8, 5), nt.HM(8, 20)),
		).
		Build()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 0,
		router.WithItineraries())
	require.NoError(t, err)

	entries := p.Entries(stopIdx(t, s, "B"))
	require.Len(t, entries, 1)
	assert.Equal(t, nt.HM(8, 20), entries[0].Vector.Arrival)
	require.Len(t, entries[0].Legs, 1)
	assert.Equal(t, "express", s.Route(entries[0].Legs[0].Route).Trips[entries[0].Legs[0].Trip].ID)
}

func TestCorruptNetworkAbortsRun(t *testing.T) {
	s := singleRoute()
	r1, ok := s.RouteIndex("R1")
	require.True(t, ok)
	// 破坏已构建的索引
	s.Route(r1).Trips[0].Arrivals = nil

	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, 2)
	assert.Nil(t, p)
	var se *network.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "network", se.Entity)
	assert.Equal(t, s.Dataset(), se.ID)

	// 引擎在中止后可以继续使用
	engine := router.NewRoundEngine(s, router.EngineOptions{MaxRounds: 1})
	a := stopIdx(t, s, "A")
	_, err = engine.Run(a, nt.HM(9, 0))
	require.NoError(t, err)
	_, err = engine.Run(a, nt.HM(8, 0))
	assert.ErrorAs(t, err, &se)
}

func TestHugeTransferLimit(t *testing.T) {
	s := singleRoute()
	p, err := router.New(s).ComputeAccessibility(context.Background(), "A", at(nt.HM(8, 0)), time.Minute, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, router.StatusConverged, p.Status)
	assert.True(t, p.Reachable(stopIdx(t, s, "C")))
}
