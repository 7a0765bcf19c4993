package domain

// BatteryMode is the BESS's current operating mode. Boost is a tagged
// variant of Discharging used when the discharge is driven by session
// demand rather than a manual/scheduled command; both update the
// reservoir identically.
type BatteryMode string

const (
	BatteryIdle        BatteryMode = "IDLE"
	BatteryCharging    BatteryMode = "CHARGING"
	BatteryDischarging BatteryMode = "DISCHARGING"
	BatteryBoost       BatteryMode = "BOOST"
)

// idleThresholdKW separates "idle" from "active" when deriving mode
// from a raw power reading (telemetry or integration).
const idleThresholdKW = 0.1

// BatteryState is the singleton live state of the on-site BESS.
type BatteryState struct {
	Params BatteryParams

	SOC   float64 // percent, clamped to [MinSOC, MaxSOC]
	Power float64 // kW; positive = discharging, negative = charging
	Mode  BatteryMode
}

// NewBatteryState creates the boot-time BESS state at initialSOC,
// clamped to [MinSOC, MaxSOC], in idle mode. Later battery telemetry
// overrides it via UpdateFromTelemetry.
func NewBatteryState(params BatteryParams, initialSOC float64) *BatteryState {
	soc := clamp(initialSOC, params.MinSOC, params.MaxSOC)
	return &BatteryState{
		Params: params,
		SOC:    soc,
		Mode:   BatteryIdle,
	}
}

// AvailableEnergyKWh is the usable energy above MinSOC.
func (b *BatteryState) AvailableEnergyKWh() float64 {
	usable := b.SOC - b.Params.MinSOC
	if usable < 0 {
		usable = 0
	}
	return (usable / 100) * b.Params.CapacityKWh
}

// AvailableDischargeKW is the power the battery could sustain for one
// hour without crossing MinSOC, bounded by its nameplate power.
func (b *BatteryState) AvailableDischargeKW() float64 {
	if b.SOC <= b.Params.MinSOC {
		return 0
	}
	return min(b.Params.MaxPowerKW, b.AvailableEnergyKWh())
}

// AvailableChargeKW is the symmetric quantity against MaxSOC.
func (b *BatteryState) AvailableChargeKW() float64 {
	if b.SOC >= b.Params.MaxSOC {
		return 0
	}
	headroom := ((b.Params.MaxSOC - b.SOC) / 100) * b.Params.CapacityKWh
	return min(b.Params.MaxPowerKW, headroom)
}

// ApplyPower integrates power over a duration, updating SOC and mode.
// power is positive for discharge, negative for charge, matching the
// sign convention of Power itself.
func (b *BatteryState) ApplyPower(power float64, deltaSeconds float64) {
	energyKWh := (power * deltaSeconds) / 3600
	socChange := (energyKWh / b.Params.CapacityKWh) * 100
	newSOC := b.SOC - socChange
	b.SOC = clamp(newSOC, b.Params.MinSOC, b.Params.MaxSOC)
	b.Power = power
	b.Mode = modeForPower(power, b.Mode)
}

// UpdateFromTelemetry overrides the simulated state with a real
// battery's reported (soc, power) and derives Mode from the sign and
// magnitude of power.
func (b *BatteryState) UpdateFromTelemetry(soc, power float64) {
	b.SOC = clamp(soc, b.Params.MinSOC, b.Params.MaxSOC)
	b.Power = power
	b.Mode = modeForPower(power, BatteryDischarging)
}

// modeForPower derives Idle/Charging/Discharging from a signed power
// reading. current is the mode immediately prior to this update, used
// only to keep an in-progress Boost tagged as Boost rather than
// flattening it to plain Discharging.
func modeForPower(power float64, current BatteryMode) BatteryMode {
	if abs(power) < idleThresholdKW {
		return BatteryIdle
	}
	if power > 0 {
		if current == BatteryBoost {
			return BatteryBoost
		}
		return BatteryDischarging
	}
	return BatteryCharging
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
