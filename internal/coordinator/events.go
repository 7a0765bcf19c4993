package coordinator

import (
	"time"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

// StartSessionRequest begins a new charging session on a connector.
type StartSessionRequest struct {
	ChargerID       string
	ConnectorID     int
	VehicleMaxPower float64
	UserID          string
	RFIDTag         string
	Timestamp       time.Time
}

// StopSessionRequest ends an active session.
type StopSessionRequest struct {
	SessionID string
	Timestamp time.Time
}

// PowerUpdateRequest carries inbound telemetry for an active session:
// consumed power, the vehicle's (possibly revised) max power, accumulated
// energy, and optionally SOC.
type PowerUpdateRequest struct {
	SessionID       string
	ConsumedPower   float64
	VehicleMaxPower float64
	TotalEnergy     float64
	VehicleSOC      *float64
	Timestamp       time.Time
}

// BatteryTelemetryRequest carries a real BESS's reported state,
// overriding the simulated reservoir for this and future passes.
type BatteryTelemetryRequest struct {
	SOC       float64
	Power     float64
	Timestamp time.Time
}

// StationStatusRequest asks for a read-only snapshot of the site.
type StationStatusRequest struct{}

// GridComplianceRequest asks whether reported consumption currently
// respects the site's grid contract.
type GridComplianceRequest struct{}

// StationStatus is the coordinator's answer to StationStatusRequest.
type StationStatus struct {
	SiteID         string
	ActiveSessions []domain.Session
	Battery        domain.BatteryState
	GridCapacity   float64
	StaticLoad     float64
	GridCompliant  bool
	TotalAllocated float64
	TotalDemand    float64
	Timestamp      time.Time
}

// request is the internal envelope the event loop selects on: exactly
// one of the payload fields is set, and reply always receives exactly
// one value before the loop moves to the next request.
type request struct {
	startSession   *StartSessionRequest
	stopSession    *StopSessionRequest
	powerUpdate    *PowerUpdateRequest
	batteryTelem   *BatteryTelemetryRequest
	stationStatus  *StationStatusRequest
	gridCompliance *GridComplianceRequest
	reply          chan response
}

type response struct {
	session   *domain.Session
	status    *StationStatus
	compliant bool
	err       error
}
