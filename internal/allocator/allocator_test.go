package allocator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcharge/ems-coordinator/internal/allocator"
	"github.com/evcharge/ems-coordinator/internal/domain"
)

func twoConnectorCharger(id string, power float64) domain.ChargerSpec {
	return domain.ChargerSpec{
		ID:       id,
		MaxPower: power,
		Connectors: []domain.ConnectorSpec{
			{ConnectorID: 1, Type: domain.ConnectorCCS2, MaxPower: 150},
			{ConnectorID: 2, Type: domain.ConnectorCCS2, MaxPower: 150},
		},
	}
}

func session(id, chargerID string, connectorID int, vehicleMax float64) *domain.Session {
	return &domain.Session{
		SessionID:       id,
		ChargerID:       chargerID,
		ConnectorID:     connectorID,
		State:           domain.SessionActive,
		VehicleMaxPower: vehicleMax,
	}
}

// B1. Zero sessions.
func TestAllocate_NoSessions(t *testing.T) {
	topo := &domain.TopologyModel{GridCapacity: 400, StaticLoad: 3}
	result := allocator.Allocate(nil, topo, nil)
	assert.Empty(t, result.Allocations)
}

// B2. Single session with demand <= gridAvailable receives full demand.
func TestAllocate_SingleSessionBelowCapacity(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers:     []domain.ChargerSpec{twoConnectorCharger("CP001", 200)},
	}
	s := session("S1", "CP001", 1, 50)
	result := allocator.Allocate([]*domain.Session{s}, topo, nil)

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, 50.0, result.Allocations[0].AllocatedPower)
}

// S1. Static two-way share on one charger.
func TestAllocate_S1_TwoWaySplitOnOneCharger(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers:     []domain.ChargerSpec{twoConnectorCharger("CP001", 200)},
	}
	s1 := session("S1", "CP001", 1, 150)
	s2 := session("S2", "CP001", 2, 150)
	result := allocator.Allocate([]*domain.Session{s1, s2}, topo, nil)

	a1, ok := result.ByID("S1")
	require.True(t, ok)
	a2, ok := result.ByID("S2")
	require.True(t, ok)

	assert.Equal(t, 100.0, a1.AllocatedPower)
	assert.Equal(t, 100.0, a2.AllocatedPower)
	assert.LessOrEqual(t, result.TotalAllocated, 397.0)
}

// S2. Grid-constrained four-way share across two chargers.
func TestAllocate_S2_GridConstrainedFourWay(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers: []domain.ChargerSpec{
			twoConnectorCharger("CP001", 200),
			twoConnectorCharger("CP002", 200),
		},
	}
	sessions := []*domain.Session{
		session("S1", "CP001", 1, 150),
		session("S2", "CP001", 2, 150),
		session("S3", "CP002", 1, 150),
		session("S4", "CP002", 2, 150),
	}
	result := allocator.Allocate(sessions, topo, nil)

	assert.InDelta(t, 400.0, result.TotalDemand, 1e-9)
	assert.InDelta(t, 397.0, result.TotalAvailable, 1e-9)
	assert.InDelta(t, 0.9925, result.Factor, 1e-9)

	for _, id := range []string{"S1", "S2", "S3", "S4"} {
		a, ok := result.ByID(id)
		require.True(t, ok)
		assert.InDelta(t, 99.2, a.AllocatedPower, 0.05)
	}
	assert.LessOrEqual(t, result.TotalAllocated, result.TotalAvailable+0.1*float64(len(sessions)))
}

// S3. BESS boost: four 150 kW sessions with a battery able to discharge 100 kW.
func TestAllocate_S3_BESSBoost(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers: []domain.ChargerSpec{
			{ID: "CP001", MaxPower: 600, Connectors: []domain.ConnectorSpec{
				{ConnectorID: 1, MaxPower: 150}, {ConnectorID: 2, MaxPower: 150},
				{ConnectorID: 3, MaxPower: 150}, {ConnectorID: 4, MaxPower: 150},
			}},
		},
		Battery: &domain.BatteryParams{CapacityKWh: 200, MaxPowerKW: 100, MinSOC: 10, MaxSOC: 100},
	}
	battery := domain.NewBatteryState(*topo.Battery, 80)

	sessions := []*domain.Session{
		session("S1", "CP001", 1, 150),
		session("S2", "CP001", 2, 150),
		session("S3", "CP001", 3, 150),
		session("S4", "CP001", 4, 150),
	}
	result := allocator.Allocate(sessions, topo, battery)

	assert.InDelta(t, 600.0, result.TotalDemand, 1e-9)
	assert.InDelta(t, 397.0, result.GridAvailable, 1e-9)
	assert.InDelta(t, 100.0, result.BESSAvailable, 1e-9)
	assert.InDelta(t, 497.0, result.TotalAvailable, 1e-9)
	assert.InDelta(t, 0.828, result.Factor, 0.001)

	for _, id := range []string{"S1", "S2", "S3", "S4"} {
		a, ok := result.ByID(id)
		require.True(t, ok)
		assert.InDelta(t, 124.2, a.AllocatedPower, 0.1)
	}
}

// S4. Reallocation on departure: three remaining sessions after a stop.
// S2 is now alone on CP001 (limit 200, capped by its 150 kW vehicle);
// S3 and S4 still share CP002 (limit 100 each). Total demand 350 fits
// within 397, so every session receives its full demand.
func TestAllocate_S4_ReallocationOnDeparture(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers: []domain.ChargerSpec{
			twoConnectorCharger("CP001", 200),
			twoConnectorCharger("CP002", 200),
		},
	}
	sessions := []*domain.Session{
		session("S2", "CP001", 2, 150),
		session("S3", "CP002", 1, 150),
		session("S4", "CP002", 2, 150),
	}
	result := allocator.Allocate(sessions, topo, nil)

	expected := map[string]float64{"S2": 150.0, "S3": 100.0, "S4": 100.0}
	for _, id := range []string{"S2", "S3", "S4"} {
		a, ok := result.ByID(id)
		require.True(t, ok)
		assert.InDelta(t, expected[id], a.AllocatedPower, 0.1)
	}
	assert.LessOrEqual(t, result.TotalAllocated, 397.0+0.1*float64(len(sessions)))
}

// B3. totalDemand exactly equals totalAvailable.
func TestAllocate_B3_ExactMatch(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 200,
		StaticLoad:   0,
		Chargers:     []domain.ChargerSpec{twoConnectorCharger("CP001", 400)},
	}
	s1 := session("S1", "CP001", 1, 100)
	s2 := session("S2", "CP001", 2, 100)
	result := allocator.Allocate([]*domain.Session{s1, s2}, topo, nil)

	assert.Equal(t, 1.0, result.Factor)
	a1, _ := result.ByID("S1")
	a2, _ := result.ByID("S2")
	assert.Equal(t, 100.0, a1.AllocatedPower)
	assert.Equal(t, 100.0, a2.AllocatedPower)
}

// Fairness: equal demand implies equal allocation even under factor < 1.
func TestAllocate_EqualDemandEqualAllocation(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 100,
		StaticLoad:   0,
		Chargers:     []domain.ChargerSpec{twoConnectorCharger("CP001", 400)},
	}
	s1 := session("S1", "CP001", 1, 100)
	s2 := session("S2", "CP001", 2, 100)
	result := allocator.Allocate([]*domain.Session{s1, s2}, topo, nil)

	a1, _ := result.ByID("S1")
	a2, _ := result.ByID("S2")
	assert.Equal(t, a1.AllocatedPower, a2.AllocatedPower)
}

// P1/P2: universal invariants over a larger random-ish fixture.
func TestAllocate_Invariants(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 350,
		StaticLoad:   10,
		Chargers: []domain.ChargerSpec{
			twoConnectorCharger("CP001", 180),
			twoConnectorCharger("CP002", 220),
		},
		Battery: &domain.BatteryParams{CapacityKWh: 100, MaxPowerKW: 50, MinSOC: 10, MaxSOC: 100},
	}
	battery := domain.NewBatteryState(*topo.Battery, 95)

	sessions := []*domain.Session{
		session("A1", "CP001", 1, 120),
		session("A2", "CP001", 2, 90),
		session("A3", "CP002", 1, 200),
		session("A4", "CP002", 2, 60),
	}
	result := allocator.Allocate(sessions, topo, battery)

	assert.LessOrEqual(t, result.TotalAllocated, result.TotalAvailable+0.1*float64(len(sessions)))

	activeOnCharger := map[string]int{"CP001": 2, "CP002": 2}
	for _, s := range sessions {
		a, ok := result.ByID(s.SessionID)
		require.True(t, ok)
		charger, _ := topo.Charger(s.ChargerID)
		limit := charger.MaxPower / float64(activeOnCharger[s.ChargerID])
		maxAllowed := s.VehicleMaxPower
		if limit < maxAllowed {
			maxAllowed = limit
		}
		assert.LessOrEqual(t, a.AllocatedPower, maxAllowed+0.05)
	}
}

// R1. Running the allocator twice on the same input is idempotent.
func TestAllocate_Idempotent(t *testing.T) {
	topo := &domain.TopologyModel{
		GridCapacity: 400,
		StaticLoad:   3,
		Chargers:     []domain.ChargerSpec{twoConnectorCharger("CP001", 200)},
	}
	sessions := []*domain.Session{
		session("S1", "CP001", 1, 150),
		session("S2", "CP001", 2, 150),
	}
	r1 := allocator.Allocate(sessions, topo, nil)
	r2 := allocator.Allocate(sessions, topo, nil)
	assert.Equal(t, r1.Allocations, r2.Allocations)
}

// B4. Battery at minSOC disables boost.
func TestAllocate_B4_BatteryAtMinSOC(t *testing.T) {
	params := domain.BatteryParams{CapacityKWh: 100, MaxPowerKW: 50, MinSOC: 10, MaxSOC: 100}
	battery := domain.NewBatteryState(params, 10)
	assert.Equal(t, 0.0, battery.AvailableDischargeKW())
}

// B5. Battery at maxSOC disables charge-opportunity.
func TestAllocate_B5_BatteryAtMaxSOC(t *testing.T) {
	params := domain.BatteryParams{CapacityKWh: 100, MaxPowerKW: 50, MinSOC: 10, MaxSOC: 100}
	battery := domain.NewBatteryState(params, 100)
	assert.Equal(t, 0.0, battery.AvailableChargeKW())
}
