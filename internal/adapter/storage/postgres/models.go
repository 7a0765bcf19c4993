package postgres

import "time"

// SessionRecord is the sessions table: one row per charging session,
// upserted on start, on each power update, and on stop.
type SessionRecord struct {
	SessionID   string `gorm:"primaryKey;column:session_id"`
	ChargerID   string `gorm:"index;column:charger_id"`
	ConnectorID int    `gorm:"column:connector_id"`

	State     string     `gorm:"column:state"`
	StartTime time.Time  `gorm:"column:start_time"`
	EndTime   *time.Time `gorm:"column:end_time"`

	VehicleMaxPower float64  `gorm:"column:vehicle_max_power"`
	AllocatedPower  float64  `gorm:"column:allocated_power"`
	ConsumedPower   float64  `gorm:"column:consumed_power"`
	TotalEnergy     float64  `gorm:"column:total_energy"`
	VehicleSOC      *float64 `gorm:"column:vehicle_soc"`

	UserID  string `gorm:"column:user_id"`
	RFIDTag string `gorm:"column:rfid_tag"`
}

func (SessionRecord) TableName() string { return "sessions" }

// SessionPowerUpdate is the session_power_updates table: an append-only
// history of telemetry-driven power/energy/SOC reports per session.
type SessionPowerUpdate struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	SessionID     string    `gorm:"index;column:session_id"`
	Timestamp     time.Time `gorm:"column:timestamp"`
	ConsumedPower float64   `gorm:"column:consumed_power"`
	TotalEnergy   float64   `gorm:"column:total_energy"`
	VehicleSOC    *float64  `gorm:"column:vehicle_soc"`
}

func (SessionPowerUpdate) TableName() string { return "session_power_updates" }

// PowerMetric is the power_metrics table: a site-level allocation
// snapshot, sampled every Nth coordinator event.
type PowerMetric struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp      time.Time `gorm:"index;column:timestamp"`
	GridPowerKW    float64   `gorm:"column:grid_power_kw"`
	BESSPowerKW    float64   `gorm:"column:bess_power_kw"`
	TotalAllocated float64   `gorm:"column:total_allocated"`
	TotalConsumed  float64   `gorm:"column:total_consumed"`
	AvailablePower float64   `gorm:"column:available_power"`
	ActiveSessions int       `gorm:"column:active_sessions"`
}

func (PowerMetric) TableName() string { return "power_metrics" }

// BESSStatusLog is the bess_status_logs table: one row per BESS
// telemetry update or command.
type BESSStatusLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;column:timestamp"`
	Mode      string    `gorm:"column:mode"`
	Power     float64   `gorm:"column:power"`
	SOC       float64   `gorm:"column:soc"`
}

func (BESSStatusLog) TableName() string { return "bess_status_logs" }

// EventRecord is the events table: the append-only audit trail.
type EventRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index;column:timestamp"`
	Kind        string    `gorm:"column:kind"`
	Description string    `gorm:"column:description"`
	Payload     string    `gorm:"column:payload"` // JSON-encoded
}

func (EventRecord) TableName() string { return "events" }
