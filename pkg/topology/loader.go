// Package topology loads the boot-time site description (spec §6)
// from a JSON file into an immutable domain.TopologyModel, applying
// the documented field defaults (staticLoad, minSOC, maxSOC).
package topology

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

type fileConnector struct {
	ConnectorID int     `json:"connector_id"`
	Type        string  `json:"connector_type"`
	MaxPower    float64 `json:"max_power"`
}

type fileCharger struct {
	ID           string          `json:"id"`
	MaxPower     float64         `json:"maxPower"`
	Connectors   []fileConnector `json:"connectors"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
}

type fileBattery struct {
	InitialCapacity float64  `json:"initialCapacity"`
	Power           float64  `json:"power"`
	MinSOC          *float64 `json:"minSOC"`
	MaxSOC          *float64 `json:"maxSOC"`
}

type fileTopology struct {
	StationID    string        `json:"stationId"`
	GridCapacity float64       `json:"gridCapacity"`
	StaticLoad   *float64      `json:"staticLoad"`
	Chargers     []fileCharger `json:"chargers"`
	Battery      *fileBattery  `json:"battery"`
}

const (
	defaultStaticLoad = 3.0
	defaultMinSOC     = 10.0
	defaultMaxSOC     = 100.0
)

// Load reads and parses a topology file from disk into a
// domain.TopologyModel, applying spec-mandated field defaults.
func Load(path string) (*domain.TopologyModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw topology JSON, useful for tests and for embedding
// a topology inline in the simulator.
func Parse(data []byte) (*domain.TopologyModel, error) {
	var ft fileTopology
	if err := json.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("topology: decode: %w", err)
	}

	staticLoad := defaultStaticLoad
	if ft.StaticLoad != nil {
		staticLoad = *ft.StaticLoad
	}

	chargers := make([]domain.ChargerSpec, len(ft.Chargers))
	for i, fc := range ft.Chargers {
		connectors := make([]domain.ConnectorSpec, len(fc.Connectors))
		for j, fconn := range fc.Connectors {
			connectors[j] = domain.ConnectorSpec{
				ConnectorID: fconn.ConnectorID,
				Type:        domain.ConnectorType(fconn.Type),
				MaxPower:    fconn.MaxPower,
			}
		}
		chargers[i] = domain.ChargerSpec{
			ID:           fc.ID,
			MaxPower:     fc.MaxPower,
			Connectors:   connectors,
			Manufacturer: fc.Manufacturer,
			Model:        fc.Model,
		}
	}

	model := &domain.TopologyModel{
		SiteID:       ft.StationID,
		GridCapacity: ft.GridCapacity,
		StaticLoad:   staticLoad,
		Chargers:     chargers,
	}

	if ft.Battery != nil {
		minSOC := defaultMinSOC
		if ft.Battery.MinSOC != nil {
			minSOC = *ft.Battery.MinSOC
		}
		maxSOC := defaultMaxSOC
		if ft.Battery.MaxSOC != nil {
			maxSOC = *ft.Battery.MaxSOC
		}
		model.Battery = &domain.BatteryParams{
			CapacityKWh: ft.Battery.InitialCapacity,
			MaxPowerKW:  ft.Battery.Power,
			MinSOC:      minSOC,
			MaxSOC:      maxSOC,
		}
	}

	return model, nil
}
