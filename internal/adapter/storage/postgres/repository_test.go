package postgres

import (
	"testing"
	"time"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

func TestToSessionRecord_MapsAllFields(t *testing.T) {
	soc := 55.0
	end := time.Now()
	s := &domain.Session{
		SessionID:       "sess-1",
		ChargerID:       "charger-1",
		ConnectorID:     2,
		State:           domain.SessionCompleted,
		StartTime:       end.Add(-time.Hour),
		EndTime:         &end,
		VehicleMaxPower: 22,
		AllocatedPower:  11,
		ConsumedPower:   10.5,
		TotalEnergy:     9.2,
		VehicleSOC:      &soc,
		UserID:          "user-1",
		RFIDTag:         "rfid-1",
	}

	record := toSessionRecord(s)

	if record.SessionID != s.SessionID || record.ChargerID != s.ChargerID || record.ConnectorID != s.ConnectorID {
		t.Fatalf("identity fields not mapped: %+v", record)
	}
	if record.State != string(domain.SessionCompleted) {
		t.Fatalf("expected state COMPLETED, got %q", record.State)
	}
	if record.EndTime == nil || !record.EndTime.Equal(end) {
		t.Fatalf("end time not mapped")
	}
	if record.VehicleSOC == nil || *record.VehicleSOC != 55.0 {
		t.Fatalf("vehicle soc not mapped")
	}
}
