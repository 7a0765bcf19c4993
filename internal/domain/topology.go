package domain

// ConnectorType enumerates the physical connector standards a charger
// port can expose. It mirrors the station configuration schema.
type ConnectorType string

const (
	ConnectorCCS2    ConnectorType = "CCS2"
	ConnectorCHAdeMO ConnectorType = "CHAdeMO"
	ConnectorType2   ConnectorType = "Type2"
	ConnectorType1   ConnectorType = "Type1"
	ConnectorGBT     ConnectorType = "GB/T"
	ConnectorTesla   ConnectorType = "Tesla"
)

// ConnectorSpec describes one physical outlet on a charger.
type ConnectorSpec struct {
	ConnectorID int           `json:"connectorId"`
	Type        ConnectorType `json:"type"`
	MaxPower    float64       `json:"maxPower"`
}

// ChargerSpec describes a physical charging unit with a shared power
// budget across its connectors. The sum of connector maxima may exceed
// MaxPower; the charger throttles internally.
type ChargerSpec struct {
	ID           string          `json:"id"`
	MaxPower     float64         `json:"maxPower"`
	Connectors   []ConnectorSpec `json:"connectors"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Model        string          `json:"model,omitempty"`
}

// Connector looks up a connector spec by ID, returning ok=false if it
// does not exist on this charger.
func (c ChargerSpec) Connector(connectorID int) (ConnectorSpec, bool) {
	for _, conn := range c.Connectors {
		if conn.ConnectorID == connectorID {
			return conn, true
		}
	}
	return ConnectorSpec{}, false
}

// BatteryParams describes the on-site BESS, when present.
type BatteryParams struct {
	CapacityKWh float64 `json:"capacityKWh"`
	MaxPowerKW  float64 `json:"maxPowerKW"`
	MinSOC      float64 `json:"minSOC"`
	MaxSOC      float64 `json:"maxSOC"`
}

// TopologyModel is the immutable, boot-time-loaded description of a
// site: grid contract, static load, chargers/connectors, and the
// optional battery. Nothing in the coordinator mutates a TopologyModel
// after construction.
type TopologyModel struct {
	SiteID       string
	GridCapacity float64
	StaticLoad   float64
	Chargers     []ChargerSpec
	Battery      *BatteryParams
}

// Charger looks up a charger spec by ID.
func (t *TopologyModel) Charger(chargerID string) (ChargerSpec, bool) {
	for _, c := range t.Chargers {
		if c.ID == chargerID {
			return c, true
		}
	}
	return ChargerSpec{}, false
}

// GridAvailable is the grid headroom above the static baseline load.
func (t *TopologyModel) GridAvailable() float64 {
	return t.GridCapacity - t.StaticLoad
}
