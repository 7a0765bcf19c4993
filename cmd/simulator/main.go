// Command simulator is a dev-only MQTT device simulator, grounded in
// original_source/simulators/charger_simulator.py: it drives one
// charger's connectors through a session lifecycle and publishes the
// telemetry/session topics the real coordinator expects, so the
// allocator and BESS policy can be exercised without physical
// hardware. Not part of the production binary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type connectorState struct {
	status          string
	sessionID       string
	powerLimit      float64
	vehicleMaxPower float64
	currentPower    float64
	energyDelivered float64
	vehicleSOC      float64
}

type sessionStartMessage struct {
	Timestamp       time.Time `json:"timestamp"`
	ChargerID       string    `json:"charger_id"`
	ConnectorID     int       `json:"connector_id"`
	SessionID       string    `json:"session_id"`
	VehicleMaxPower float64   `json:"vehicle_max_power"`
	UserID          string    `json:"user_id"`
}

type sessionStopMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	ChargerID   string    `json:"charger_id"`
	ConnectorID int       `json:"connector_id"`
	SessionID   string    `json:"session_id"`
	TotalEnergy float64   `json:"total_energy"`
	Reason      string    `json:"reason"`
}

type sessionUpdateMessage struct {
	Timestamp       time.Time `json:"timestamp"`
	ChargerID       string    `json:"charger_id"`
	ConnectorID     int       `json:"connector_id"`
	SessionID       string    `json:"session_id"`
	ConsumedPower   float64   `json:"consumed_power"`
	VehicleMaxPower float64   `json:"vehicle_max_power"`
	VehicleSOC      float64   `json:"vehicle_soc"`
	EnergyDelivered float64   `json:"energy_delivered"`
}

func main() {
	siteID := flag.String("site", "site-1", "site identifier")
	chargerID := flag.String("charger", "CP001", "charger identifier")
	connectors := flag.Int("connectors", 2, "number of connectors")
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	duration := flag.Duration("duration", 5*time.Minute, "simulation duration")
	flag.Parse()

	opts := mqtt.NewClientOptions().AddBroker(*broker).SetClientID("sim-" + *chargerID)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		topic := fmt.Sprintf("%s/charger/%s/connector/+/power_limit", *siteID, *chargerID)
		c.Subscribe(topic, 1, nil)
	})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("connect failed: %v", token.Error())
	}
	defer client.Disconnect(250)

	states := make(map[int]*connectorState, *connectors)
	for i := 1; i <= *connectors; i++ {
		states[i] = &connectorState{status: "available"}
	}

	startSession(client, *siteID, *chargerID, 1, 150, states[1])
	if *connectors > 1 {
		time.Sleep(2 * time.Second)
		startSession(client, *siteID, *chargerID, 2, 100, states[2])
	}

	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) {
		for connID, state := range states {
			if state.status == "charging" {
				publishTelemetry(client, *siteID, *chargerID, connID, state)
				if state.vehicleSOC >= 99.5 {
					stopSession(client, *siteID, *chargerID, connID, state)
				}
			}
		}
		time.Sleep(time.Second)
	}

	for connID, state := range states {
		if state.status == "charging" {
			stopSession(client, *siteID, *chargerID, connID, state)
		}
	}
}

func startSession(client mqtt.Client, siteID, chargerID string, connectorID int, vehicleMaxPower float64, state *connectorState) {
	sessionID := fmt.Sprintf("session_%s_%d_%d", chargerID, connectorID, time.Now().Unix())
	state.status = "charging"
	state.sessionID = sessionID
	state.vehicleMaxPower = vehicleMaxPower
	state.powerLimit = vehicleMaxPower
	state.vehicleSOC = 10 + rand.Float64()*30

	msg := sessionStartMessage{
		Timestamp:       time.Now().UTC(),
		ChargerID:       chargerID,
		ConnectorID:     connectorID,
		SessionID:       sessionID,
		VehicleMaxPower: vehicleMaxPower,
		UserID:          "sim-user",
	}
	publish(client, fmt.Sprintf("%s/charger/%s/session/start", siteID, chargerID), msg)
}

func stopSession(client mqtt.Client, siteID, chargerID string, connectorID int, state *connectorState) {
	msg := sessionStopMessage{
		Timestamp:   time.Now().UTC(),
		ChargerID:   chargerID,
		ConnectorID: connectorID,
		SessionID:   state.sessionID,
		TotalEnergy: state.energyDelivered,
		Reason:      "vehicle_full",
	}
	publish(client, fmt.Sprintf("%s/charger/%s/session/stop", siteID, chargerID), msg)

	state.status = "available"
	state.sessionID = ""
	state.currentPower = 0
	state.powerLimit = 0
}

// publishTelemetry mirrors the original simulator's SOC-taper model:
// charge rate drops above 80% state of charge, matching real packs'
// constant-current/constant-voltage transition.
func publishTelemetry(client mqtt.Client, siteID, chargerID string, connectorID int, state *connectorState) {
	powerFactor := 1.0
	switch {
	case state.vehicleSOC < 20:
		powerFactor = 0.95
	case state.vehicleSOC >= 80:
		powerFactor = maxFloat(0.2, 1.0-(state.vehicleSOC-80)/20*0.8)
	}

	target := minFloat(state.powerLimit, state.vehicleMaxPower) * powerFactor
	state.currentPower = target * (0.95 + rand.Float64()*0.05)

	energyIncrement := state.currentPower / 3600
	state.energyDelivered += energyIncrement
	state.vehicleSOC = minFloat(100, state.vehicleSOC+energyIncrement*1.5)

	update := sessionUpdateMessage{
		Timestamp:       time.Now().UTC(),
		ChargerID:       chargerID,
		ConnectorID:     connectorID,
		SessionID:       state.sessionID,
		ConsumedPower:   state.currentPower,
		VehicleMaxPower: state.vehicleMaxPower,
		VehicleSOC:      state.vehicleSOC,
		EnergyDelivered: state.energyDelivered,
	}
	publish(client, fmt.Sprintf("%s/charger/%s/session/update", siteID, chargerID), update)
}

func publish(client mqtt.Client, topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal failed for %s: %v", topic, err)
		return
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
