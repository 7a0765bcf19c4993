// Package coordinator implements the session coordinator (spec C5): the
// single actor goroutine owning the active-session registry and the
// BESS state, serializing every session lifecycle transition and
// telemetry update through one buffered request channel. This replaces
// the ad-hoc per-request facade the original system used (REST and
// MQTT each drove their own copy of the allocation logic) with the one
// place spec §5 requires: all mutation happens on the loop goroutine,
// everything else only ever asks it questions.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evcharge/ems-coordinator/internal/allocator"
	"github.com/evcharge/ems-coordinator/internal/bess"
	"github.com/evcharge/ems-coordinator/internal/domain"
	"github.com/evcharge/ems-coordinator/internal/ports"
	"github.com/evcharge/ems-coordinator/internal/registry"
)

// Config holds the coordinator's tunable constants. Zero-value Config
// is invalid; use DefaultConfig.
type Config struct {
	SiteID string

	// ReallocationHysteresisKW suppresses republishing a connector's
	// power limit when the new allocation differs from the last
	// published value by less than this much, avoiding command churn
	// on every minor telemetry tick.
	ReallocationHysteresisKW float64

	// BESSHysteresisKW is the same idea applied to BESS commands.
	BESSHysteresisKW float64

	// MetricsSampleEvery writes a power_metrics row every Nth processed
	// event rather than on every single one.
	MetricsSampleEvery int

	// RequestBufferSize sizes the event channel.
	RequestBufferSize int
}

func DefaultConfig(siteID string) Config {
	return Config{
		SiteID:                   siteID,
		ReallocationHysteresisKW: 0.5,
		BESSHysteresisKW:         0.1,
		MetricsSampleEvery:       5,
		RequestBufferSize:        256,
	}
}

// Coordinator is the EMS core. All exported methods are safe to call
// concurrently: they hand a request to the loop goroutine and block on
// a per-call reply channel. The loop goroutine itself is the only
// mutator of registry and battery state.
type Coordinator struct {
	cfg    Config
	topo   *domain.TopologyModel
	reg    *registry.Registry
	battery *bess.Controller // nil when the site has no BESS
	sink   ports.PersistenceSink
	fabric ports.MessageFabric
	log    *zap.Logger

	reqCh chan request

	eventCount int
	lastTick   time.Time
}

func New(topo *domain.TopologyModel, battery *bess.Controller, sink ports.PersistenceSink, fabric ports.MessageFabric, cfg Config, log *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		topo:    topo,
		reg:     registry.New(),
		battery: battery,
		sink:    sink,
		fabric:  fabric,
		log:     log,
		reqCh:   make(chan request, cfg.RequestBufferSize),
	}
}

// Run drives the event loop until ctx is cancelled. Callers should run
// this in its own goroutine and call the exported methods from others.
func (c *Coordinator) Run(ctx context.Context) {
	c.lastTick = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.reqCh:
			req.reply <- c.handle(ctx, req)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, req request) response {
	switch {
	case req.startSession != nil:
		s, err := c.handleStartSession(ctx, req.startSession)
		return response{session: s, err: err}
	case req.stopSession != nil:
		s, err := c.handleStopSession(ctx, req.stopSession)
		return response{session: s, err: err}
	case req.powerUpdate != nil:
		s, err := c.handlePowerUpdate(ctx, req.powerUpdate)
		return response{session: s, err: err}
	case req.batteryTelem != nil:
		err := c.handleBatteryTelemetry(ctx, req.batteryTelem)
		return response{err: err}
	case req.stationStatus != nil:
		return response{status: c.handleStationStatus()}
	case req.gridCompliance != nil:
		return response{compliant: c.handleIsGridCompliant()}
	default:
		return response{err: fmt.Errorf("coordinator: empty request")}
	}
}

// StartSession submits a session-start event and blocks for the result.
func (c *Coordinator) StartSession(ctx context.Context, r StartSessionRequest) (*domain.Session, error) {
	resp, err := c.submit(ctx, request{startSession: &r})
	if err != nil {
		return nil, err
	}
	return resp.session, resp.err
}

// StopSession submits a session-stop event and blocks for the result.
func (c *Coordinator) StopSession(ctx context.Context, r StopSessionRequest) (*domain.Session, error) {
	resp, err := c.submit(ctx, request{stopSession: &r})
	if err != nil {
		return nil, err
	}
	return resp.session, resp.err
}

// UpdatePower submits an inbound telemetry event and blocks for the result.
func (c *Coordinator) UpdatePower(ctx context.Context, r PowerUpdateRequest) (*domain.Session, error) {
	resp, err := c.submit(ctx, request{powerUpdate: &r})
	if err != nil {
		return nil, err
	}
	return resp.session, resp.err
}

// BatteryTelemetry submits a real-battery telemetry update.
func (c *Coordinator) BatteryTelemetry(ctx context.Context, r BatteryTelemetryRequest) error {
	resp, err := c.submit(ctx, request{batteryTelem: &r})
	if err != nil {
		return err
	}
	return resp.err
}

// StationStatus returns a point-in-time snapshot of site state.
func (c *Coordinator) StationStatus(ctx context.Context) (*StationStatus, error) {
	resp, err := c.submit(ctx, request{stationStatus: &StationStatusRequest{}})
	if err != nil {
		return nil, err
	}
	return resp.status, resp.err
}

func (c *Coordinator) submit(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case c.reqCh <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (c *Coordinator) handleStartSession(ctx context.Context, r *StartSessionRequest) (*domain.Session, error) {
	charger, ok := c.topo.Charger(r.ChargerID)
	if !ok {
		return nil, domain.NewUnknownChargerError(r.ChargerID)
	}
	if _, ok := charger.Connector(r.ConnectorID); !ok {
		return nil, domain.NewUnknownConnectorError(r.ChargerID, r.ConnectorID)
	}
	key := domain.ConnectorKey{ChargerID: r.ChargerID, ConnectorID: r.ConnectorID}
	if c.reg.IsOccupied(key) {
		return nil, domain.NewConnectorBusyError(r.ChargerID, r.ConnectorID)
	}

	s := &domain.Session{
		SessionID:       uuid.NewString(),
		ChargerID:       r.ChargerID,
		ConnectorID:     r.ConnectorID,
		State:           domain.SessionActive,
		StartTime:       r.Timestamp,
		VehicleMaxPower: r.VehicleMaxPower,
		UserID:          r.UserID,
		RFIDTag:         r.RFIDTag,
		LastProcessedAt: r.Timestamp,
	}
	c.reg.Insert(s)

	if err := c.sink.UpsertSession(ctx, s); err != nil {
		c.log.Warn("persist session start failed", zap.String("sessionId", s.SessionID), zap.Error(err))
	}
	c.appendAudit(ctx, domain.AuditSessionStart, fmt.Sprintf("session %s started on %s/%d", s.SessionID, s.ChargerID, s.ConnectorID), map[string]interface{}{
		"sessionId": s.SessionID, "chargerId": s.ChargerID, "connectorId": s.ConnectorID,
	})

	c.tickBattery(r.Timestamp)
	c.reallocate(ctx, r.Timestamp)
	return s, nil
}

func (c *Coordinator) handleStopSession(ctx context.Context, r *StopSessionRequest) (*domain.Session, error) {
	s := c.reg.Get(r.SessionID)
	if s == nil {
		return nil, domain.NewSessionNotFoundError(r.SessionID)
	}
	if r.Timestamp.Before(s.LastProcessedAt) {
		return nil, domain.NewStaleUpdateError(r.SessionID, "stop")
	}

	end := r.Timestamp
	s.State = domain.SessionCompleted
	s.EndTime = &end
	s.LastProcessedAt = r.Timestamp
	s.AllocatedPower = 0
	s.OfferedPower = 0

	if err := c.sink.UpsertSession(ctx, s); err != nil {
		c.log.Warn("persist session stop failed", zap.String("sessionId", s.SessionID), zap.Error(err))
	}
	c.appendAudit(ctx, domain.AuditSessionStop, fmt.Sprintf("session %s stopped", s.SessionID), map[string]interface{}{
		"sessionId": s.SessionID, "totalEnergy": s.TotalEnergy,
	})

	c.publishPowerLimit(s.ChargerID, s.ConnectorID, 0)
	c.reg.Remove(s.SessionID)

	c.tickBattery(r.Timestamp)
	c.reallocate(ctx, r.Timestamp)
	return s, nil
}

func (c *Coordinator) handlePowerUpdate(ctx context.Context, r *PowerUpdateRequest) (*domain.Session, error) {
	s := c.reg.Get(r.SessionID)
	if s == nil {
		return nil, domain.NewSessionNotFoundError(r.SessionID)
	}
	if r.Timestamp.Before(s.LastProcessedAt) {
		return nil, domain.NewStaleUpdateError(r.SessionID, "power")
	}
	if r.TotalEnergy < s.TotalEnergy {
		c.log.Warn("rejecting non-monotonic totalEnergy",
			zap.String("sessionId", s.SessionID),
			zap.Float64("stored", s.TotalEnergy),
			zap.Float64("incoming", r.TotalEnergy))
		return nil, domain.NewStaleUpdateError(r.SessionID, "totalEnergy")
	}

	s.ConsumedPower = r.ConsumedPower
	if r.VehicleMaxPower > 0 {
		s.VehicleMaxPower = r.VehicleMaxPower
	}
	s.TotalEnergy = r.TotalEnergy
	s.VehicleSOC = r.VehicleSOC
	s.LastProcessedAt = r.Timestamp

	if err := c.sink.AppendPowerUpdate(ctx, s); err != nil {
		c.log.Warn("persist power update failed", zap.String("sessionId", s.SessionID), zap.Error(err))
	}

	c.tickBattery(r.Timestamp)
	c.reallocate(ctx, r.Timestamp)

	if err := c.sink.UpsertSession(ctx, s); err != nil {
		c.log.Warn("persist session update failed", zap.String("sessionId", s.SessionID), zap.Error(err))
	}
	return s, nil
}

func (c *Coordinator) handleBatteryTelemetry(ctx context.Context, r *BatteryTelemetryRequest) error {
	if c.battery == nil {
		return nil
	}
	c.battery.UpdateFromTelemetry(r.SOC, r.Power)
	c.lastTick = r.Timestamp
	c.logBESSStatus(ctx, r.Timestamp)
	c.reallocate(ctx, r.Timestamp)
	return nil
}

func (c *Coordinator) handleStationStatus() *StationStatus {
	active := c.reg.Active()
	sessions := make([]domain.Session, len(active))
	for i, s := range active {
		sessions[i] = *s
	}
	var battery domain.BatteryState
	if c.battery != nil {
		battery = *c.battery.State()
	}
	result := allocator.Allocate(active, c.topo, c.batteryStateOrNil())
	return &StationStatus{
		SiteID:         c.cfg.SiteID,
		ActiveSessions: sessions,
		Battery:        battery,
		GridCapacity:   c.topo.GridCapacity,
		StaticLoad:     c.topo.StaticLoad,
		GridCompliant:  c.totalConsumption(active) <= c.topo.GridCapacity,
		TotalAllocated: result.TotalAllocated,
		TotalDemand:    result.TotalDemand,
		Timestamp:      time.Now(),
	}
}

// reallocate re-runs the allocator and BESS policy over the current
// active set and publishes any resulting change that clears hysteresis.
// It is the one place session-start, session-stop, power-update and
// battery-telemetry converge, closing the dual-path bug of the original
// system where REST and MQTT each ran their own copy of this logic.
func (c *Coordinator) reallocate(ctx context.Context, now time.Time) {
	active := c.reg.Active()
	battery := c.batteryStateOrNil()
	result := allocator.Allocate(active, c.topo, battery)

	for _, a := range result.Allocations {
		s := c.reg.Get(a.SessionID)
		if s == nil {
			continue
		}
		s.AllocatedPower = a.AllocatedPower
		s.OfferedPower = a.AllocatedPower
		delta := a.AllocatedPower - s.LastPublishedPower
		if delta < 0 {
			delta = -delta
		}
		if delta < c.cfg.ReallocationHysteresisKW {
			continue
		}
		s.LastPublishedPower = a.AllocatedPower
		c.publishPowerLimit(s.ChargerID, s.ConnectorID, a.AllocatedPower)
		c.appendAudit(ctx, domain.AuditReallocation, fmt.Sprintf("session %s reallocated to %.1f kW", s.SessionID, a.AllocatedPower), map[string]interface{}{
			"sessionId": s.SessionID, "allocatedPower": a.AllocatedPower,
		})
	}

	totalConsumed := c.totalConsumption(active)

	if c.battery != nil {
		cmd := c.battery.Decide(result.GridAvailable, result.TotalDemand, totalConsumed)
		c.applyBESSCommand(ctx, cmd, now)
	}

	if totalConsumed > c.topo.GridCapacity {
		c.log.Warn("grid contract exceeded by reported consumption",
			zap.Float64("totalConsumed", totalConsumed),
			zap.Float64("gridCapacity", c.topo.GridCapacity))
	}

	c.eventCount++
	if c.eventCount%c.cfg.MetricsSampleEvery == 0 {
		c.sampleMetrics(ctx, result, now)
	}
}

// totalConsumption sums reported per-session consumption plus the
// site's fixed static load, mirroring the original's
// get_total_consumption: it reflects telemetry, not allocation, so it
// can transiently exceed the grid contract even when allocatedPower is
// compliant.
func (c *Coordinator) totalConsumption(active []*domain.Session) float64 {
	total := c.topo.StaticLoad
	for _, s := range active {
		total += s.ConsumedPower
	}
	return total
}

// IsGridCompliant reports whether current reported consumption is
// within the site's grid contract (original's is_grid_compliant).
func (c *Coordinator) IsGridCompliant(ctx context.Context) (bool, error) {
	resp, err := c.submit(ctx, request{gridCompliance: &GridComplianceRequest{}})
	if err != nil {
		return false, err
	}
	return resp.compliant, resp.err
}

func (c *Coordinator) handleIsGridCompliant() bool {
	return c.totalConsumption(c.reg.Active()) <= c.topo.GridCapacity
}

func (c *Coordinator) applyBESSCommand(ctx context.Context, cmd bess.Command, now time.Time) {
	current := c.battery.State()
	delta := cmd.Power - current.Power
	if delta < 0 {
		delta = -delta
	}
	if cmd.Mode == current.Mode && delta < c.cfg.BESSHysteresisKW {
		return
	}

	switch cmd.Mode {
	case domain.BatteryBoost:
		c.battery.SetDischarge(cmd.Power)
	case domain.BatteryCharging:
		c.battery.SetCharge(cmd.Power)
	default:
		c.battery.SetIdle()
	}

	kind := domain.AuditBESSCharge
	if cmd.Mode == domain.BatteryBoost {
		kind = domain.AuditBESSBoost
	}
	c.appendAudit(ctx, kind, fmt.Sprintf("BESS set to %s at %.1f kW", cmd.Mode, cmd.Power), map[string]interface{}{
		"mode": cmd.Mode, "power": cmd.Power,
	})
	c.publishBESSCommand(cmd)
	c.logBESSStatus(ctx, now)
}

func (c *Coordinator) tickBattery(now time.Time) {
	if c.battery == nil {
		return
	}
	delta := now.Sub(c.lastTick).Seconds()
	if delta <= 0 {
		c.lastTick = now
		return
	}
	c.battery.Tick(delta)
	c.lastTick = now
}

func (c *Coordinator) batteryStateOrNil() *domain.BatteryState {
	if c.battery == nil {
		return nil
	}
	return c.battery.State()
}

func (c *Coordinator) sampleMetrics(ctx context.Context, result allocator.Result, now time.Time) {
	totalConsumed := 0.0
	for _, s := range c.reg.Active() {
		totalConsumed += s.ConsumedPower
	}
	bessPower := 0.0
	if c.battery != nil {
		bessPower = c.battery.State().Power
	}
	snapshot := ports.PowerMetricsSnapshot{
		Timestamp:      now,
		GridPowerKW:    result.GridAvailable,
		BESSPowerKW:    bessPower,
		TotalAllocated: result.TotalAllocated,
		TotalConsumed:  totalConsumed,
		AvailablePower: result.TotalAvailable,
		ActiveSessions: c.reg.Len(),
	}
	if err := c.sink.AppendPowerMetrics(ctx, snapshot); err != nil {
		c.log.Warn("persist power metrics failed", zap.Error(err))
	}
}

func (c *Coordinator) logBESSStatus(ctx context.Context, now time.Time) {
	if c.battery == nil {
		return
	}
	state := c.battery.State()
	if err := c.sink.AppendBESSStatus(ctx, ports.BESSStatusLog{
		Timestamp: now,
		Mode:      state.Mode,
		Power:     state.Power,
		SOC:       state.SOC,
	}); err != nil {
		c.log.Warn("persist bess status failed", zap.Error(err))
	}
}

func (c *Coordinator) appendAudit(ctx context.Context, kind domain.AuditKind, description string, payload map[string]interface{}) {
	if err := c.sink.AppendEvent(ctx, domain.AuditEvent{
		Timestamp:   time.Now(),
		Kind:        kind,
		Description: description,
		Payload:     payload,
	}); err != nil {
		c.log.Warn("persist audit event failed", zap.Error(err))
	}
}

type powerLimitCommand struct {
	Timestamp   time.Time `json:"timestamp"`
	ChargerID   string    `json:"charger_id"`
	ConnectorID int       `json:"connector_id"`
	PowerLimit  float64   `json:"power_limit"`
	Priority    string    `json:"priority"`
}

func (c *Coordinator) publishPowerLimit(chargerID string, connectorID int, powerLimit float64) {
	payload, err := json.Marshal(powerLimitCommand{
		Timestamp:   time.Now(),
		ChargerID:   chargerID,
		ConnectorID: connectorID,
		PowerLimit:  powerLimit,
		Priority:    "normal",
	})
	if err != nil {
		c.log.Error("marshal power limit command failed", zap.Error(err))
		return
	}
	topic := fmt.Sprintf("%s/charger/%s/connector/%d/power_limit", c.cfg.SiteID, chargerID, connectorID)
	if err := c.fabric.Publish(ports.OutboundMessage{Topic: topic, Payload: payload}); err != nil {
		c.log.Error("publish power limit failed", zap.String("topic", topic), zap.Error(err))
	}
}

// bessWireCommand mirrors the wire vocabulary (charge/discharge/idle)
// rather than the internal domain.BatteryMode, which also tracks the
// Boost/Discharging distinction the wire protocol has no use for.
type bessWireCommand struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Power     float64   `json:"power"`
}

func (c *Coordinator) publishBESSCommand(cmd bess.Command) {
	wire := "idle"
	switch cmd.Mode {
	case domain.BatteryBoost, domain.BatteryDischarging:
		wire = "discharge"
	case domain.BatteryCharging:
		wire = "charge"
	}
	payload, err := json.Marshal(bessWireCommand{Timestamp: time.Now(), Command: wire, Power: cmd.Power})
	if err != nil {
		c.log.Error("marshal bess command failed", zap.Error(err))
		return
	}
	topic := fmt.Sprintf("%s/bess/command", c.cfg.SiteID)
	if err := c.fabric.Publish(ports.OutboundMessage{Topic: topic, Payload: payload}); err != nil {
		c.log.Error("publish bess command failed", zap.String("topic", topic), zap.Error(err))
	}
}
