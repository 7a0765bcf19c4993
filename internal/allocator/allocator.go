// Package allocator implements the site's fair-share power allocator
// (spec §4.1): a pure function from the active session set, the site
// topology, and an optional battery snapshot to a per-session
// allocation vector that never exceeds grid-plus-battery capacity.
package allocator

import (
	"math"
	"sort"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

// Allocation is one session's computed share of available power.
type Allocation struct {
	SessionID      string
	ChargerID      string
	ConnectorID    int
	Demand         float64
	AllocatedPower float64
}

// Result is the allocator's full output for one pass.
type Result struct {
	Allocations    []Allocation
	GridAvailable  float64
	BESSAvailable  float64
	TotalAvailable float64
	TotalDemand    float64
	TotalAllocated float64
	Factor         float64
}

// ByID returns the allocation for sessionID, or false if absent.
func (r Result) ByID(sessionID string) (Allocation, bool) {
	for _, a := range r.Allocations {
		if a.SessionID == sessionID {
			return a, true
		}
	}
	return Allocation{}, false
}

// Allocate runs the single-pass, deterministic algorithm of spec §4.1
// over the given sessions. battery may be nil (no BESS, or boost not
// permitted this pass) — in that case BESSAvailable is 0.
//
// Sessions must all be domain.SessionActive; callers are responsible
// for filtering the registry before calling.
func Allocate(sessions []*domain.Session, topo *domain.TopologyModel, battery *domain.BatteryState) Result {
	gridAvailable := topo.GridAvailable()

	bessAvailable := 0.0
	if battery != nil {
		bessAvailable = battery.AvailableDischargeKW()
	}

	totalAvailable := gridAvailable + bessAvailable

	if len(sessions) == 0 {
		return Result{
			Allocations:    []Allocation{},
			GridAvailable:  gridAvailable,
			BESSAvailable:  bessAvailable,
			TotalAvailable: totalAvailable,
		}
	}

	activeOnCharger := countActiveByCharger(sessions)

	demands := make([]Allocation, len(sessions))
	totalDemand := 0.0
	for i, s := range sessions {
		limit := connectorLimit(s, topo, activeOnCharger)
		demand := math.Min(s.VehicleMaxPower, limit)
		demands[i] = Allocation{
			SessionID:   s.SessionID,
			ChargerID:   s.ChargerID,
			ConnectorID: s.ConnectorID,
			Demand:      demand,
		}
		totalDemand += demand
	}

	factor := 1.0
	if totalDemand > totalAvailable && totalDemand > 0 {
		factor = totalAvailable / totalDemand
	}

	for i := range demands {
		demands[i].AllocatedPower = round1(demands[i].Demand * factor)
	}

	demands = correctRoundingOvershoot(demands, totalAvailable)

	totalAllocated := 0.0
	for _, a := range demands {
		totalAllocated += a.AllocatedPower
	}

	return Result{
		Allocations:    demands,
		GridAvailable:  gridAvailable,
		BESSAvailable:  bessAvailable,
		TotalAvailable: totalAvailable,
		TotalDemand:    totalDemand,
		TotalAllocated: totalAllocated,
		Factor:         factor,
	}
}

// connectorLimit computes charger(s).maxPower / activeConnectorsOnCharger
// as described in spec §4.1 step 4.
func connectorLimit(s *domain.Session, topo *domain.TopologyModel, activeOnCharger map[string]int) float64 {
	charger, ok := topo.Charger(s.ChargerID)
	if !ok {
		return 0
	}
	n := activeOnCharger[s.ChargerID]
	if n == 0 {
		n = 1
	}
	return charger.MaxPower / float64(n)
}

func countActiveByCharger(sessions []*domain.Session) map[string]int {
	counts := make(map[string]int, len(sessions))
	for _, s := range sessions {
		counts[s.ChargerID]++
	}
	return counts
}

// round1 rounds to one decimal kW, matching the original's round(x, 1)
// (ties go to the even digit, so 99.25 becomes 99.2).
func round1(x float64) float64 {
	return math.RoundToEven(x*10) / 10
}

// correctRoundingOvershoot implements the spec's tie-break: per-session
// round1 can push the sum up to 0.1*|S| kW above totalAvailable. Drop
// 0.1 kW increments from the highest-sessionId session (stable order)
// until the sum is within bound.
func correctRoundingOvershoot(allocations []Allocation, totalAvailable float64) []Allocation {
	ordered := make([]int, len(allocations))
	for i := range ordered {
		ordered[i] = i
	}
	sort.Slice(ordered, func(i, j int) bool {
		return allocations[ordered[i]].SessionID > allocations[ordered[j]].SessionID
	})

	sum := func() float64 {
		total := 0.0
		for _, a := range allocations {
			total += a.AllocatedPower
		}
		return total
	}

	const epsilonPerSession = 0.1
	maxEpsilon := epsilonPerSession * float64(len(allocations))

	for sum() > totalAvailable+maxEpsilon {
		progressed := false
		for _, idx := range ordered {
			if allocations[idx].AllocatedPower >= 0.1 {
				allocations[idx].AllocatedPower = round1(allocations[idx].AllocatedPower - 0.1)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}

	return allocations
}
