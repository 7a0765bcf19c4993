package domain

import "time"

// AuditKind enumerates the audit trail event types the coordinator
// emits on every state transition worth recording.
type AuditKind string

const (
	AuditSessionStart AuditKind = "session_start"
	AuditSessionStop  AuditKind = "session_stop"
	AuditPowerUpdate  AuditKind = "power_update"
	AuditBESSBoost    AuditKind = "bess_boost"
	AuditBESSCharge   AuditKind = "bess_charge"
	AuditReallocation AuditKind = "reallocation"
)

// AuditEvent is one row of the append-only audit trail.
type AuditEvent struct {
	Timestamp   time.Time
	Kind        AuditKind
	Description string
	Payload     map[string]interface{}
}
