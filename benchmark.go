package main

import (
	"context"
	"flag"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sirupsen/logrus"
)

var (
	benchmarkCount = flag.Int("benchmark.count", 100, "the random query count for benchmark")
	benchmarkStart = flag.String("benchmark.start", "08:00", "the window start for benchmark")
	benchmarkEnd   = flag.String("benchmark.end", "08:30", "the window end for benchmark")
	benchmarkStep  = flag.Int("benchmark.step", 300, "the departure step (seconds) for benchmark")
	benchmarkSeed  = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU   = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

func runBenchmark(server *AccessibilityServer) {
	log.Logger.SetLevel(logrus.WarnLevel)
	e := rand.New(rand.NewSource(*benchmarkSeed))
	stops := server.Router().Store().Stops()
	if len(stops) == 0 {
		log.Error("benchmark skipped: empty network")
		return
	}
	// 随机选取benchmarkCount个起点
	reqs := make([]*connect.Request[ComputeAccessibilityRequest], *benchmarkCount)
	for i := range reqs {
		reqs[i] = connect.NewRequest(&ComputeAccessibilityRequest{
			Origin:      stops[e.Intn(len(stops))].ID,
			Start:       *benchmarkStart,
			End:         *benchmarkEnd,
			StepSeconds: int32(*benchmarkStep),
		})
	}

	start := time.Now()
	var wg sync.WaitGroup
	var success atomic.Int32
	run := func(req *connect.Request[ComputeAccessibilityRequest]) {
		res, err := server.ComputeAccessibility(context.Background(), req)
		if err != nil {
			log.Error("benchmark failed, err:", err)
			return
		}
		if res.Msg.Summary.Reachable > 1 {
			success.Add(1)
		}
	}
	if *benchmarkCPU == 1 {
		for _, req := range reqs {
			run(req)
		}
	} else {
		runtime.GOMAXPROCS(*benchmarkCPU)
		wg.Add(len(reqs))
		for _, req := range reqs {
			go func() {
				defer wg.Done()
				run(req)
			}()
		}
		wg.Wait()
	}
	timeCost := time.Since(start) * time.Duration(*benchmarkCPU)
	log.Error(
		"benchmark finished", "\n",
		"count:", *benchmarkCount, "\n",
		"time:", timeCost, "\n",
		"avg:", timeCost/time.Duration(max(*benchmarkCount, 1)), "\n",
		"success:", success.Load(), "\n",
	)
}
