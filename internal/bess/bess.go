// Package bess implements the BESS controller (spec §4.2): the policy
// that decides whether the on-site battery should boost charging
// sessions, recharge from spare grid capacity, or idle, plus the
// simulated-integration fallback used when no real battery telemetry
// is available.
package bess

import (
	"github.com/evcharge/ems-coordinator/internal/domain"
)

// Policy holds the tunable constants of the BESS arbitration policy.
// Zero-value Policy{} is invalid; use NewPolicy for the spec defaults.
type Policy struct {
	// MinChargePowerKW is the minimum useful charge threshold (spec:
	// 5 kW) below which the controller stays idle rather than cycling.
	MinChargePowerKW float64
	// ChargeOpportunityUtilization is the fraction of gridAvailable
	// below which a charge opportunity is considered (spec: 0.7).
	ChargeOpportunityUtilization float64
}

// NewPolicy returns the spec's default constants.
func NewPolicy() Policy {
	return Policy{
		MinChargePowerKW:             5.0,
		ChargeOpportunityUtilization: 0.7,
	}
}

// Command is the instruction the controller wants delivered to the
// physical battery.
type Command struct {
	Mode  domain.BatteryMode
	Power float64
}

// Controller wraps a BatteryState with the boost/charge/idle decision
// policy. It never fails: an exhausted or unknown reservoir simply
// degrades to idle.
type Controller struct {
	state  *domain.BatteryState
	policy Policy
}

func NewController(state *domain.BatteryState, policy Policy) *Controller {
	return &Controller{state: state, policy: policy}
}

// State exposes the underlying battery state (read-mostly; only the
// controller itself and telemetry updates mutate it).
func (c *Controller) State() *domain.BatteryState { return c.state }

// CalculateBoostPower computes how much discharge the battery should
// contribute this pass, per spec §4.2's boost condition.
func (c *Controller) CalculateBoostPower(gridAvailable, totalDemand float64) float64 {
	if c.state.SOC <= c.state.Params.MinSOC {
		return 0
	}
	shortage := totalDemand - gridAvailable
	if shortage <= 0 {
		return 0
	}
	available := c.state.AvailableDischargeKW()
	if shortage < available {
		return shortage
	}
	return available
}

// CalculateChargeOpportunity computes how much the battery should
// recharge this pass, per spec §4.2's charge-opportunity condition.
func (c *Controller) CalculateChargeOpportunity(gridAvailable, currentLoad float64) float64 {
	if c.state.SOC >= c.state.Params.MaxSOC {
		return 0
	}
	if currentLoad >= c.policy.ChargeOpportunityUtilization*gridAvailable {
		return 0
	}
	spare := gridAvailable - currentLoad
	if spare <= 0 {
		return 0
	}
	available := c.state.AvailableChargeKW()
	chargePower := spare
	if available < chargePower {
		chargePower = available
	}
	if chargePower < c.policy.MinChargePowerKW {
		return 0
	}
	return chargePower
}

// Decide runs the full boost -> charge-opportunity -> idle decision
// tree of spec §4.2 and returns the command to publish. It does not
// mutate state; callers apply the command via SetDischarge/SetCharge/
// SetIdle once they've decided to act on it (letting a dry-run caller
// inspect the decision without side effects).
func (c *Controller) Decide(gridAvailable, totalDemand, currentLoad float64) Command {
	if boost := c.CalculateBoostPower(gridAvailable, totalDemand); boost > 0 {
		return Command{Mode: domain.BatteryBoost, Power: boost}
	}
	if charge := c.CalculateChargeOpportunity(gridAvailable, currentLoad); charge > 0 {
		return Command{Mode: domain.BatteryCharging, Power: charge}
	}
	return Command{Mode: domain.BatteryIdle, Power: 0}
}

// SetDischarge commits a discharge command, clamping to what's
// actually available and falling back to idle below the 0.1 kW
// activity threshold.
func (c *Controller) SetDischarge(power float64) Command {
	available := c.state.AvailableDischargeKW()
	actual := power
	if available < actual {
		actual = available
	}
	if actual < 0.1 {
		return c.SetIdle()
	}
	c.state.Power = actual
	c.state.Mode = domain.BatteryBoost
	return Command{Mode: domain.BatteryBoost, Power: actual}
}

// SetCharge commits a charge command symmetrically to SetDischarge.
func (c *Controller) SetCharge(power float64) Command {
	available := c.state.AvailableChargeKW()
	actual := power
	if available < actual {
		actual = available
	}
	if actual < 0.1 {
		return c.SetIdle()
	}
	c.state.Power = -actual
	c.state.Mode = domain.BatteryCharging
	return Command{Mode: domain.BatteryCharging, Power: actual}
}

// SetIdle commits an idle command.
func (c *Controller) SetIdle() Command {
	c.state.Power = 0
	c.state.Mode = domain.BatteryIdle
	return Command{Mode: domain.BatteryIdle, Power: 0}
}

// Tick applies the battery's currently-committed power over deltaSeconds
// of wall-clock time, integrating SOC. Call this once per coordinator
// event when no real battery telemetry is available to drive SOC.
func (c *Controller) Tick(deltaSeconds float64) {
	c.state.ApplyPower(c.state.Power, deltaSeconds)
}

// UpdateFromTelemetry overrides the simulated reservoir with a real
// battery's reported state.
func (c *Controller) UpdateFromTelemetry(soc, power float64) {
	c.state.UpdateFromTelemetry(soc, power)
}
