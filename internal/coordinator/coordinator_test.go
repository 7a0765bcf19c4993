package coordinator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/evcharge/ems-coordinator/internal/bess"
	"github.com/evcharge/ems-coordinator/internal/domain"
	"github.com/evcharge/ems-coordinator/internal/ports"
)

// mockSink is a hand-rolled ports.PersistenceSink, matching the
// teacher's *Func-field mock convention (internal/mocks in the
// original repo) rather than a generated or testify mock.
type mockSink struct {
	UpsertSessionFunc     func(ctx context.Context, s *domain.Session) error
	AppendPowerUpdateFunc func(ctx context.Context, s *domain.Session) error
	AppendPowerMetricsFunc func(ctx context.Context, snap ports.PowerMetricsSnapshot) error
	AppendBESSStatusFunc  func(ctx context.Context, log ports.BESSStatusLog) error
	AppendEventFunc       func(ctx context.Context, event domain.AuditEvent) error
	RecentMetricsFunc     func(ctx context.Context, since time.Time) ([]ports.PowerMetricsSnapshot, error)
	StatisticsFunc        func(ctx context.Context, since time.Time) (ports.SessionStatistics, error)

	events []domain.AuditEvent
}

func (m *mockSink) UpsertSession(ctx context.Context, s *domain.Session) error {
	if m.UpsertSessionFunc != nil {
		return m.UpsertSessionFunc(ctx, s)
	}
	return nil
}

func (m *mockSink) AppendPowerUpdate(ctx context.Context, s *domain.Session) error {
	if m.AppendPowerUpdateFunc != nil {
		return m.AppendPowerUpdateFunc(ctx, s)
	}
	return nil
}

func (m *mockSink) AppendPowerMetrics(ctx context.Context, snap ports.PowerMetricsSnapshot) error {
	if m.AppendPowerMetricsFunc != nil {
		return m.AppendPowerMetricsFunc(ctx, snap)
	}
	return nil
}

func (m *mockSink) AppendBESSStatus(ctx context.Context, log ports.BESSStatusLog) error {
	if m.AppendBESSStatusFunc != nil {
		return m.AppendBESSStatusFunc(ctx, log)
	}
	return nil
}

func (m *mockSink) AppendEvent(ctx context.Context, event domain.AuditEvent) error {
	m.events = append(m.events, event)
	if m.AppendEventFunc != nil {
		return m.AppendEventFunc(ctx, event)
	}
	return nil
}

func (m *mockSink) RecentMetrics(ctx context.Context, since time.Time) ([]ports.PowerMetricsSnapshot, error) {
	if m.RecentMetricsFunc != nil {
		return m.RecentMetricsFunc(ctx, since)
	}
	return nil, nil
}

func (m *mockSink) Statistics(ctx context.Context, since time.Time) (ports.SessionStatistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx, since)
	}
	return ports.SessionStatistics{}, nil
}

// mockFabric is a hand-rolled ports.MessageFabric recording every
// publish for assertions.
type mockFabric struct {
	PublishFunc func(msg ports.OutboundMessage) error
	published   []ports.OutboundMessage
}

func (m *mockFabric) Publish(msg ports.OutboundMessage) error {
	m.published = append(m.published, msg)
	if m.PublishFunc != nil {
		return m.PublishFunc(msg)
	}
	return nil
}

func (m *mockFabric) Close() error { return nil }

func testTopology() *domain.TopologyModel {
	return &domain.TopologyModel{
		SiteID:       "site-1",
		GridCapacity: 100,
		StaticLoad:   10,
		Chargers: []domain.ChargerSpec{
			{
				ID:       "charger-1",
				MaxPower: 50,
				Connectors: []domain.ConnectorSpec{
					{ConnectorID: 1, Type: domain.ConnectorCCS2, MaxPower: 50},
					{ConnectorID: 2, Type: domain.ConnectorCCS2, MaxPower: 50},
				},
			},
		},
	}
}

func newTestCoordinator(t *testing.T, sink ports.PersistenceSink, fabric ports.MessageFabric) *Coordinator {
	t.Helper()
	return New(testTopology(), nil, sink, fabric, DefaultConfig("site-1"), zap.NewNop())
}

func TestStartSession_UnknownCharger(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "missing", ConnectorID: 1, VehicleMaxPower: 11, Timestamp: time.Now()})
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.ErrUnknownCharger {
		t.Fatalf("expected UNKNOWN_CHARGER, got %v", err)
	}
}

func TestStartSession_ConnectorBusy(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	req := StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 11, Timestamp: time.Now()}
	if _, err := c.StartSession(ctx, req); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	_, err := c.StartSession(ctx, req)
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.ErrConnectorBusy {
		t.Fatalf("expected CONNECTOR_BUSY, got %v", err)
	}
}

func TestStartSession_PublishesAllocation(t *testing.T) {
	fabric := &mockFabric{}
	c := newTestCoordinator(t, &mockSink{}, fabric)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s.SessionID == "" {
		t.Fatal("expected a generated session ID")
	}
	if len(fabric.published) == 0 {
		t.Fatal("expected a power-limit publish on session start")
	}
}

func TestStopSession_UnknownSession(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.StopSession(ctx, StopSessionRequest{SessionID: "nope", Timestamp: time.Now()})
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.ErrSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

func TestStopSession_FreesConnectorForReuse(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := c.StopSession(ctx, StopSessionRequest{SessionID: s.SessionID, Timestamp: now.Add(time.Minute)}); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("expected connector free for reuse, got %v", err)
	}
}

func TestUpdatePower_StaleTimestampRejected(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err = c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 20, Timestamp: now.Add(-time.Second)})
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.ErrStaleUpdate {
		t.Fatalf("expected STALE_UPDATE, got %v", err)
	}
}

func TestUpdatePower_PersistsAndReallocates(t *testing.T) {
	var appended int
	sink := &mockSink{AppendPowerUpdateFunc: func(ctx context.Context, s *domain.Session) error {
		appended++
		return nil
	}}
	c := newTestCoordinator(t, sink, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	updated, err := c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 20, TotalEnergy: 1.5, Timestamp: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.ConsumedPower != 20 {
		t.Fatalf("expected consumed power 20, got %v", updated.ConsumedPower)
	}
	if appended != 1 {
		t.Fatalf("expected one AppendPowerUpdate call, got %d", appended)
	}
}

func TestUpdatePower_NonMonotonicTotalEnergyRejected(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 20, TotalEnergy: 5.0, Timestamp: now.Add(time.Second)}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	_, err = c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 20, TotalEnergy: 4.8, Timestamp: now.Add(2 * time.Second)})
	derr, ok := err.(*domain.Error)
	if !ok || derr.Kind != domain.ErrStaleUpdate {
		t.Fatalf("expected STALE_UPDATE for non-monotonic totalEnergy, got %v", err)
	}

	status, err := c.StationStatus(ctx)
	if err != nil {
		t.Fatalf("station status failed: %v", err)
	}
	if status.ActiveSessions[0].TotalEnergy != 5.0 {
		t.Fatalf("expected totalEnergy to stay at 5.0, got %v", status.ActiveSessions[0].TotalEnergy)
	}
}

func TestUpdatePower_RevisesVehicleMaxPower(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	updated, err := c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 20, VehicleMaxPower: 30, Timestamp: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.VehicleMaxPower != 30 {
		t.Fatalf("expected vehicleMaxPower revised to 30, got %v", updated.VehicleMaxPower)
	}
}

func TestIsGridCompliant(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	compliant, err := c.IsGridCompliant(ctx)
	if err != nil {
		t.Fatalf("grid compliance check failed: %v", err)
	}
	if !compliant {
		t.Fatalf("expected compliant with no reported consumption yet")
	}

	if _, err := c.UpdatePower(ctx, PowerUpdateRequest{SessionID: s.SessionID, ConsumedPower: 500, Timestamp: now.Add(time.Second)}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	compliant, err = c.IsGridCompliant(ctx)
	if err != nil {
		t.Fatalf("grid compliance check failed: %v", err)
	}
	if compliant {
		t.Fatalf("expected non-compliant once reported consumption exceeds grid capacity")
	}
}

func TestTwoSessionsOnSameCharger_SplitEvenly(t *testing.T) {
	c := newTestCoordinator(t, &mockSink{}, &mockFabric{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	now := time.Now()
	s1, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start 1 failed: %v", err)
	}
	s2, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 2, VehicleMaxPower: 40, Timestamp: now})
	if err != nil {
		t.Fatalf("start 2 failed: %v", err)
	}
	status, err := c.StationStatus(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if len(status.ActiveSessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(status.ActiveSessions))
	}
	// charger-1's 50 kW budget is shared by two sessions: 25 kW each.
	for _, s := range status.ActiveSessions {
		if s.AllocatedPower != 25 {
			t.Fatalf("expected session %s allocated 25 kW, got %v", s.SessionID, s.AllocatedPower)
		}
	}
	_ = s1
	_ = s2
}

func TestBESSBoost_AppliedWhenGridInsufficient(t *testing.T) {
	topo := &domain.TopologyModel{
		SiteID:       "site-1",
		GridCapacity: 30,
		StaticLoad:   0,
		Chargers: []domain.ChargerSpec{
			{ID: "charger-1", MaxPower: 100, Connectors: []domain.ConnectorSpec{{ConnectorID: 1, MaxPower: 100}}},
		},
		Battery: &domain.BatteryParams{CapacityKWh: 100, MaxPowerKW: 50, MinSOC: 10, MaxSOC: 95},
	}
	battery := bess.NewController(domain.NewBatteryState(*topo.Battery, 80), bess.NewPolicy())
	fabric := &mockFabric{}
	c := New(topo, battery, &mockSink{}, fabric, DefaultConfig("site-1"), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.StartSession(ctx, StartSessionRequest{ChargerID: "charger-1", ConnectorID: 1, VehicleMaxPower: 60, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if battery.State().Mode != domain.BatteryBoost {
		t.Fatalf("expected battery to enter boost mode, got %v", battery.State().Mode)
	}
}
