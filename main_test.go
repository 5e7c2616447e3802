package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/accessibility/config"
	"git.fiblab.net/sim/accessibility/network"
	nt "git.fiblab.net/sim/accessibility/network/networktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A -> B -> C，另有一条C -> D线路和B到E的步行
func testNetwork() *network.Store {
	return nt.New().
		Stops("A", "B", "C", "D", "E").
		LandUse("C", 2).
		LandUse("D", 5).
		Route("R1", []string{"A", "B", "C"},
			nt.Trip("t1", nt.HM(8, 0), nt.HM(8, 10), nt.HM(8, 20)),
			nt.Trip("t2", nt.HM(8, 30), nt.HM(8, 40), nt.HM(8, 50)),
		).
		Route("R2", []string{"C", "D"},
			nt.Trip("u1", nt.HM(8, 25), nt.HM(8, 40)),
		).
		Walk("B", "E", 180, 200).
		Build()
}

func newTestServer(t *testing.T, cacheSize int) (*AccessibilityServer, *AccessibilityClient) {
	cfg := config.Default()
	cfg.Server.CacheSize = cacheSize
	server := NewAccessibilityServer(testNetwork(), cfg.Engine, cfg.Server)
	mux := http.NewServeMux()
	mux.Handle(NewAccessibilityServiceHandler(server))
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})
	return server, NewAccessibilityClient(ts.Client(), ts.URL)
}

func ptr[T any](v T) *T {
	return &v
}

func destination(t *testing.T, res *ComputeAccessibilityResponse, id string) DestinationMessage {
	for _, d := range res.Destinations {
		if d.StopID == id {
			return d
		}
	}
	require.Failf(t, "destination not found", "%s", id)
	return DestinationMessage{}
}

func TestComputeAccessibility(t *testing.T) {
	_, client := newTestServer(t, 0)
	res, err := client.ComputeAccessibility(context.Background(), &ComputeAccessibilityRequest{
		Origin:       "A",
		Start:        "08:00",
		MaxTransfers: ptr(2),
		Itineraries:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "A", res.Origin)
	assert.Equal(t, []string{"08:00:00"}, res.Departures)
	assert.Equal(t, "converged", res.Status)
	assert.False(t, res.BudgetExceeded)
	assert.NotEmpty(t, res.QueryID)
	assert.Len(t, res.Destinations, 5)
	assert.Equal(t, 5, res.Summary.Reachable)
	assert.Equal(t, 5, res.Summary.TotalStops)

	c := destination(t, res, "C")
	require.Len(t, c.Entries, 1)
	assert.Equal(t, "08:20:00", c.Entries[0].Arrival)
	assert.EqualValues(t, 20*60, c.Entries[0].TravelSeconds)
	assert.EqualValues(t, 0, c.Entries[0].Transfers)
	assert.Equal(t, []string{"08:00:00 A -> C 08:20:00 by R1 (trip t1)"}, c.Entries[0].Legs)

	d := destination(t, res, "D")
	require.Len(t, d.Entries, 1)
	assert.Equal(t, "08:40:00", d.Entries[0].Arrival)
	assert.EqualValues(t, 1, d.Entries[0].Transfers)
	assert.Len(t, d.Entries[0].Legs, 2)

	e := destination(t, res, "E")
	require.Len(t, e.Entries, 1)
	assert.Equal(t, "08:13:00", e.Entries[0].Arrival)
	assert.EqualValues(t, 200, e.Entries[0].Distance)

	origin := destination(t, res, "A")
	require.Len(t, origin.Entries, 1)
	assert.Equal(t, "08:00:00", origin.Entries[0].Arrival)
	assert.Empty(t, origin.Entries[0].Legs)
}

func TestComputeAccessibilityOptions(t *testing.T) {
	_, client := newTestServer(t, 0)
	ctx := context.Background()

	// 不允许换乘时D不可达
	res, err := client.ComputeAccessibility(ctx, &ComputeAccessibilityRequest{
		Origin:       "A",
		Start:        "08:00",
		MaxTransfers: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Summary.Reachable)
	for _, d := range res.Destinations {
		assert.NotEqual(t, "D", d.StopID)
		for _, e := range d.Entries {
			assert.Empty(t, e.Legs)
		}
	}

	// 只返回指定目的地
	res, err = client.ComputeAccessibility(ctx, &ComputeAccessibilityRequest{
		Origin:       "A",
		Start:        "08:00",
		End:          "08:30",
		StepSeconds:  1800,
		Destinations: []string{"C"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00:00", "08:30:00"}, res.Departures)
	require.Len(t, res.Destinations, 1)
	c := res.Destinations[0]
	assert.Equal(t, "C", c.StopID)
	require.Len(t, c.Entries, 2)
	assert.Equal(t, "08:00:00", c.Entries[0].Departure)
	assert.Equal(t, "08:30:00", c.Entries[1].Departure)
	assert.Equal(t, "08:50:00", c.Entries[1].Arrival)
}

func TestComputeAccessibilityErrors(t *testing.T) {
	_, client := newTestServer(t, 0)
	cases := []struct {
		name string
		req  *ComputeAccessibilityRequest
	}{
		{"empty origin", &ComputeAccessibilityRequest{Start: "08:00"}},
		{"unknown origin", &ComputeAccessibilityRequest{Origin: "Z", Start: "08:00"}},
		{"bad clock", &ComputeAccessibilityRequest{Origin: "A", Start: "08:61"}},
		{"bad end", &ComputeAccessibilityRequest{Origin: "A", Start: "08:00", End: "soon"}},
		{"inverted window", &ComputeAccessibilityRequest{Origin: "A", Start: "09:00", End: "08:00"}},
		{"negative transfers", &ComputeAccessibilityRequest{Origin: "A", Start: "08:00", MaxTransfers: ptr(-1)}},
		{"bad land use mode", &ComputeAccessibilityRequest{Origin: "A", Start: "08:00", LandUseMode: "sum"}},
		{"bad departure mode", &ComputeAccessibilityRequest{Origin: "A", Start: "08:00", DepartureMode: "all"}},
		{"too many departures", &ComputeAccessibilityRequest{Origin: "A", Start: "00:00", End: "30:00", StepSeconds: 60}},
		{"unknown destination", &ComputeAccessibilityRequest{Origin: "A", Start: "08:00", Destinations: []string{"Z"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := client.ComputeAccessibility(context.Background(), c.req)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}
}

func TestGetNetworkInfoAndCache(t *testing.T) {
	_, client := newTestServer(t, 16)
	ctx := context.Background()

	info, err := client.GetNetworkInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Dataset)
	assert.Equal(t, network.SnapshotVersion, info.Version)
	assert.Equal(t, 5, info.Stops)
	assert.Equal(t, 2, info.Routes)
	assert.Equal(t, 3, info.Trips)
	assert.Equal(t, 1, info.Transfers)
	assert.EqualValues(t, 0, info.Queries)

	req := &ComputeAccessibilityRequest{Origin: "B", Start: "08:10"}
	first, err := client.ComputeAccessibility(ctx, req)
	require.NoError(t, err)
	second, err := client.ComputeAccessibility(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 第二次命中缓存，没有重新计算
	info, err = client.GetNetworkInfo(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Queries)
}

func TestSuspendResume(t *testing.T) {
	server, client := newTestServer(t, 0)
	server.Suspend()

	done := make(chan error, 1)
	go func() {
		_, err := client.ComputeAccessibility(context.Background(), &ComputeAccessibilityRequest{Origin: "A", Start: "08:00"})
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("request finished while suspended")
	case <-time.After(50 * time.Millisecond):
	}
	server.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request not resumed")
	}
}

func TestReload(t *testing.T) {
	server, client := newTestServer(t, 16)
	ctx := context.Background()
	req := &ComputeAccessibilityRequest{Origin: "A", Start: "08:00"}
	before, err := client.ComputeAccessibility(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 5, before.Summary.Reachable)

	snap := nt.New().Stops("A", "B").Route("R", []string{"A", "B"},
		nt.Trip("r1", nt.HM(8, 0), nt.HM(8, 5))).Snapshot()
	snap.Dataset = "reloaded"
	store, err := network.NewStore(snap)
	require.NoError(t, err)
	server.Reload(store)

	info, err := client.GetNetworkInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reloaded", info.Dataset)
	assert.Equal(t, 2, info.Stops)
	assert.EqualValues(t, 0, info.Queries)

	after, err := client.ComputeAccessibility(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Summary.Reachable)
	assert.NotEqual(t, before.QueryID, after.QueryID)
}

func TestDebugHandler(t *testing.T) {
	server, _ := newTestServer(t, 0)
	ts := httptest.NewServer(newDebugHandler(server))
	defer ts.Close()

	res, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	res2, err := ts.Client().Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusOK, res2.StatusCode)
}

func FuzzComputeAccessibility(f *testing.F) {
	cfg := config.Default()
	cfg.Server.CacheSize = 0
	server := NewAccessibilityServer(testNetwork(), cfg.Engine, cfg.Server)
	defer server.Close()

	f.Add("A", "08:00", "", uint16(60), uint8(1))
	f.Add("B", "07:30", "09:00", uint16(600), uint8(2))
	f.Add("Z", "08:00", "", uint16(0), uint8(0))
	f.Add("C", "8:5:3", "25:00", uint16(3599), uint8(16))
	f.Add("", "-1:00", "x", uint16(1), uint8(255))

	f.Fuzz(func(t *testing.T, origin, start, end string, step uint16, transfers uint8) {
		req := &ComputeAccessibilityRequest{
			Origin:       origin,
			Start:        start,
			End:          end,
			StepSeconds:  int32(step%3600) + 60,
			MaxTransfers: ptr(int(transfers % 8)),
		}
		res, err := server.ComputeAccessibility(context.Background(), connect.NewRequest(req))
		// 有且只有一个是nil
		assert.True(t, (res == nil) != (err == nil))
		if err == nil {
			assert.NotEmpty(t, res.Msg.Destinations)
		}
	})
}

func TestCacheKeyedByGeneration(t *testing.T) {
	server, client := newTestServer(t, 16)
	ctx := context.Background()
	req := &ComputeAccessibilityRequest{Origin: "A", Start: "08:00"}

	k0, err := cacheKey(req, 0)
	require.NoError(t, err)
	again, err := cacheKey(&ComputeAccessibilityRequest{Origin: "A", Start: "08:00"}, 0)
	require.NoError(t, err)
	assert.Equal(t, k0, again)
	k1, err := cacheKey(req, 1)
	require.NoError(t, err)
	assert.NotEqual(t, k0, k1)

	snap := nt.New().Stops("A", "B").Route("R", []string{"A", "B"},
		nt.Trip("r1", nt.HM(8, 0), nt.HM(8, 5))).Snapshot()
	store, err := network.NewStore(snap)
	require.NoError(t, err)
	server.Reload(store)

	// 重新加载前开始的请求在Purge之后才写入缓存
	stale := &ComputeAccessibilityResponse{Origin: "A", Summary: SummaryMessage{Reachable: 5}}
	require.NoError(t, server.cache.Set(k0, stale))

	res, err := client.ComputeAccessibility(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Reachable)
}
