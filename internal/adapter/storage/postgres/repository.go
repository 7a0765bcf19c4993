package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evcharge/ems-coordinator/internal/domain"
	"github.com/evcharge/ems-coordinator/internal/ports"
)

// Repository implements ports.PersistenceSink, following the teacher's
// repository shape: a struct embedding *gorm.DB and *zap.Logger, one
// WithContext(ctx) call per operation.
type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ ports.PersistenceSink = (*Repository)(nil)

func NewRepository(db *gorm.DB, log *zap.Logger) *Repository {
	return &Repository{db: db, log: log}
}

func (r *Repository) UpsertSession(ctx context.Context, s *domain.Session) error {
	record := toSessionRecord(s)
	err := r.db.WithContext(ctx).Save(&record).Error
	if err != nil {
		return domain.NewPersistenceError("upsert_session", err)
	}
	return nil
}

func (r *Repository) AppendPowerUpdate(ctx context.Context, s *domain.Session) error {
	row := SessionPowerUpdate{
		SessionID:     s.SessionID,
		Timestamp:     s.LastProcessedAt,
		ConsumedPower: s.ConsumedPower,
		TotalEnergy:   s.TotalEnergy,
		VehicleSOC:    s.VehicleSOC,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.NewPersistenceError("append_power_update", err)
	}
	return nil
}

func (r *Repository) AppendPowerMetrics(ctx context.Context, snapshot ports.PowerMetricsSnapshot) error {
	row := PowerMetric{
		Timestamp:      snapshot.Timestamp,
		GridPowerKW:    snapshot.GridPowerKW,
		BESSPowerKW:    snapshot.BESSPowerKW,
		TotalAllocated: snapshot.TotalAllocated,
		TotalConsumed:  snapshot.TotalConsumed,
		AvailablePower: snapshot.AvailablePower,
		ActiveSessions: snapshot.ActiveSessions,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.NewPersistenceError("append_power_metrics", err)
	}
	return nil
}

func (r *Repository) AppendBESSStatus(ctx context.Context, log ports.BESSStatusLog) error {
	row := BESSStatusLog{
		Timestamp: log.Timestamp,
		Mode:      string(log.Mode),
		Power:     log.Power,
		SOC:       log.SOC,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.NewPersistenceError("append_bess_status", err)
	}
	return nil
}

func (r *Repository) AppendEvent(ctx context.Context, event domain.AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		r.log.Warn("marshal audit payload failed", zap.Error(err))
		payload = []byte("{}")
	}
	row := EventRecord{
		Timestamp:   event.Timestamp,
		Kind:        string(event.Kind),
		Description: event.Description,
		Payload:     string(payload),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.NewPersistenceError("append_event", err)
	}
	return nil
}

func (r *Repository) RecentMetrics(ctx context.Context, since time.Time) ([]ports.PowerMetricsSnapshot, error) {
	var rows []PowerMetric
	if err := r.db.WithContext(ctx).Where("timestamp >= ?", since).Order("timestamp asc").Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError("recent_metrics", err)
	}
	out := make([]ports.PowerMetricsSnapshot, len(rows))
	for i, row := range rows {
		out[i] = ports.PowerMetricsSnapshot{
			Timestamp:      row.Timestamp,
			GridPowerKW:    row.GridPowerKW,
			BESSPowerKW:    row.BESSPowerKW,
			TotalAllocated: row.TotalAllocated,
			TotalConsumed:  row.TotalConsumed,
			AvailablePower: row.AvailablePower,
			ActiveSessions: row.ActiveSessions,
		}
	}
	return out, nil
}

// Statistics aggregates sessions started since the given time,
// grounded on the original's get_session_statistics: total vs
// completed session counts, energy delivered, and mean duration for
// completed sessions.
func (r *Repository) Statistics(ctx context.Context, since time.Time) (ports.SessionStatistics, error) {
	var row struct {
		TotalSessions     int
		CompletedSessions int
		TotalEnergy       float64
		AvgMinutes        float64
	}
	err := r.db.WithContext(ctx).Model(&SessionRecord{}).
		Select(
			"COUNT(*) AS total_sessions",
			"COUNT(*) FILTER (WHERE state = 'COMPLETED') AS completed_sessions",
			"COALESCE(SUM(total_energy), 0) AS total_energy",
			"COALESCE(AVG(EXTRACT(EPOCH FROM (end_time - start_time)) / 60) FILTER (WHERE end_time IS NOT NULL), 0) AS avg_minutes",
		).
		Where("start_time >= ?", since).
		Scan(&row).Error
	if err != nil {
		return ports.SessionStatistics{}, domain.NewPersistenceError("session_statistics", err)
	}
	return ports.SessionStatistics{
		TotalSessions:           row.TotalSessions,
		CompletedSessions:       row.CompletedSessions,
		TotalEnergyDeliveredKWh: row.TotalEnergy,
		AverageSessionMinutes:   row.AvgMinutes,
	}, nil
}

func toSessionRecord(s *domain.Session) SessionRecord {
	return SessionRecord{
		SessionID:       s.SessionID,
		ChargerID:       s.ChargerID,
		ConnectorID:     s.ConnectorID,
		State:           string(s.State),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		VehicleMaxPower: s.VehicleMaxPower,
		AllocatedPower:  s.AllocatedPower,
		ConsumedPower:   s.ConsumedPower,
		TotalEnergy:     s.TotalEnergy,
		VehicleSOC:      s.VehicleSOC,
		UserID:          s.UserID,
		RFIDTag:         s.RFIDTag,
	}
}
