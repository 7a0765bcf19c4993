package domain

import "time"

// SessionState is the lifecycle state of a charging session.
// Completed is terminal: completed sessions are removed from the
// active registry, not kept around with a tombstone state.
type SessionState string

const (
	SessionActive    SessionState = "ACTIVE"
	SessionCompleted SessionState = "COMPLETED"
)

// Session is one active (or just-completed) charging event bound to a
// single connector. allocatedPower is written only by the coordinator;
// everything else reflecting field-device reality (consumedPower,
// vehicleMaxPower, vehicleSOC, totalEnergy) is written from inbound
// telemetry.
type Session struct {
	SessionID   string
	ChargerID   string
	ConnectorID int

	State     SessionState
	StartTime time.Time
	EndTime   *time.Time

	VehicleMaxPower float64
	AllocatedPower  float64
	ConsumedPower   float64
	OfferedPower    float64
	TotalEnergy     float64
	VehicleSOC      *float64

	UserID  string
	RFIDTag string

	// LastProcessedAt is the timestamp carried by the most recently
	// accepted inbound message for this session. Messages with an
	// older timestamp are dropped as stale per the fabric's
	// at-least-once / reordering-tolerant contract.
	LastProcessedAt time.Time

	// LastPublishedPower is the power limit most recently published to
	// the connector, used to compute the 0.5 kW reallocation hysteresis.
	LastPublishedPower float64
}

// ConnectorKey identifies the (chargerId, connectorId) pair a session
// occupies. While a session is ACTIVE this pair is unique across the
// registry.
type ConnectorKey struct {
	ChargerID   string
	ConnectorID int
}

func (s *Session) Key() ConnectorKey {
	return ConnectorKey{ChargerID: s.ChargerID, ConnectorID: s.ConnectorID}
}
