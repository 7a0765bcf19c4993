// Package ports declares the interfaces the coordinator depends on
// without knowing their concrete implementation, following the
// teacher's hexagonal-architecture convention (internal/ports,
// internal/adapter/*).
package ports

import (
	"context"
	"time"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

// PowerMetricsSnapshot is one row of the site-level power_metrics
// table (spec §4.5).
type PowerMetricsSnapshot struct {
	Timestamp      time.Time
	GridPowerKW    float64
	BESSPowerKW    float64
	TotalAllocated float64
	TotalConsumed  float64
	AvailablePower float64
	ActiveSessions int
}

// BESSStatusLog is one row of the bess_status_logs table.
type BESSStatusLog struct {
	Timestamp time.Time
	Mode      domain.BatteryMode
	Power     float64
	SOC       float64
}

// SessionStatistics answers the original's get_session_statistics: an
// aggregate over all sessions started in a time window, with the
// completed ones counted separately.
type SessionStatistics struct {
	TotalSessions          int
	CompletedSessions      int
	TotalEnergyDeliveredKWh float64
	AverageSessionMinutes  float64
}

// PersistenceSink is the C7 write path: session lifecycle, power-update
// history, site-level metrics, BESS status, and audit events. Every
// method may return a *domain.Error with Kind == domain.ErrPersistenceError;
// callers never roll back in-memory state on such a failure — the
// in-memory registry stays authoritative. The coordinator logs the
// failure; a failed session row is overwritten by the next UpsertSession
// for that session, while failed appends are not re-sent.
type PersistenceSink interface {
	// UpsertSession writes a session's current fields, used on start
	// and on every power update/stop.
	UpsertSession(ctx context.Context, s *domain.Session) error

	// AppendPowerUpdate appends one row to session_power_updates.
	AppendPowerUpdate(ctx context.Context, s *domain.Session) error

	// AppendPowerMetrics appends one site-level snapshot.
	AppendPowerMetrics(ctx context.Context, snapshot PowerMetricsSnapshot) error

	// AppendBESSStatus appends one row on telemetry or command.
	AppendBESSStatus(ctx context.Context, log BESSStatusLog) error

	// AppendEvent appends one audit row.
	AppendEvent(ctx context.Context, event domain.AuditEvent) error

	// RecentMetrics supports the read-side statistics the original
	// system exposed (session statistics / power history); the core
	// owns the query, the HTTP layer owns exposing it.
	RecentMetrics(ctx context.Context, since time.Time) ([]PowerMetricsSnapshot, error)

	// Statistics aggregates sessions started since the given time,
	// supporting the original's get_session_statistics read model.
	Statistics(ctx context.Context, since time.Time) (SessionStatistics, error)
}
