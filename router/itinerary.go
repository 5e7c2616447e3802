package router

import (
	"fmt"

	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router/algo"
)

// buildLegs 沿回溯链复制出行程，结果不再引用arena
func buildLegs(store *network.Store, arena *algo.Arena, id algo.LabelID) []Leg {
	chain := arena.Chain(id)
	if len(chain) <= 1 {
		return nil
	}
	legs := make([]Leg, 0, len(chain)-1)
	for i := 1; i < len(chain); i++ {
		l := arena.Get(chain[i])
		parent := arena.Get(chain[i-1])
		switch l.Kind {
		case algo.KindTrip:
			route := store.Route(l.Route)
			trip := &route.Trips[l.Trip]
			legs = append(legs, Leg{
				Kind:   algo.KindTrip,
				From:   route.Stops[l.BoardPos],
				To:     l.Stop,
				Depart: trip.Departures[l.BoardPos],
				Arrive: trip.Arrivals[l.AlightPos],
				Route:  l.Route,
				Trip:   l.Trip,
			})
		case algo.KindTransfer:
			leg := Leg{
				Kind:     algo.KindTransfer,
				From:     parent.Stop,
				To:       l.Stop,
				Depart:   parent.Vec.Arrival,
				Arrive:   l.Vec.Arrival,
				Mode:     l.Edge.Mode,
				Distance: l.Edge.Distance,
			}
			if l.Edge.HasBikeShare() {
				leg.StationID = l.Edge.BikeShare.StationID
			}
			legs = append(legs, leg)
		}
	}
	return legs
}

// DescribeLegs 将行程转换为可读文本，每段一行
func (r *Router) DescribeLegs(legs []Leg) []string {
	out := make([]string, 0, len(legs))
	for _, leg := range legs {
		from, to := r.store.Stop(leg.From), r.store.Stop(leg.To)
		switch leg.Kind {
		case algo.KindTrip:
			route := r.store.Route(leg.Route)
			out = append(out, fmt.Sprintf("%s %s -> %s %s by %s (trip %s)",
				algo.FormatClock(leg.Depart), from.ID, to.ID, algo.FormatClock(leg.Arrive),
				route.ID, route.Trips[leg.Trip].ID))
		case algo.KindTransfer:
			via := leg.Mode.String()
			if leg.StationID != "" {
				via = fmt.Sprintf("%s at station %s", via, leg.StationID)
			}
			out = append(out, fmt.Sprintf("%s %s -> %s %s by %s (%dm)",
				algo.FormatClock(leg.Depart), from.ID, to.ID, algo.FormatClock(leg.Arrive),
				via, leg.Distance))
		}
	}
	return out
}
