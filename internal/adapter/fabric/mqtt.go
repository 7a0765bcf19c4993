// Package fabric implements the message fabric adapter (C6): an MQTT
// client wiring inbound device/BESS topics to the coordinator's event
// API and the coordinator's outbound commands to publishes. Grounded
// in the teacher's internal/adapter/queue pub/sub adapter shape, but
// built on github.com/eclipse/paho.mqtt.golang since the spec's topic
// syntax (`+` single-level wildcards) and original_source/app/mqtt are
// MQTT, not the teacher's own NATS subjects.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/evcharge/ems-coordinator/internal/coordinator"
	"github.com/evcharge/ems-coordinator/internal/domain"
	"github.com/evcharge/ems-coordinator/internal/ports"
)

// Config holds the MQTT adapter's connection settings.
type Config struct {
	BrokerURL string
	ClientID  string
	SiteID    string
	Username  string
	Password  string
	QoS       byte
}

func DefaultConfig(siteID string) Config {
	return Config{
		ClientID: "ems-coordinator-" + siteID,
		SiteID:   siteID,
		QoS:      1,
	}
}

// Adapter owns the paho client and the coordinator it feeds.
type Adapter struct {
	cfg    Config
	client mqtt.Client
	coord  *coordinator.Coordinator
	log    *zap.Logger
}

// New constructs the adapter and its underlying paho client but does
// not connect; call Connect to do that. coord may be nil at
// construction and filled in later via SetCoordinator — the adapter
// and the coordinator it feeds have a circular dependency (the
// coordinator needs a ports.MessageFabric, the fabric needs a
// coordinator to dispatch inbound messages to), so callers build one
// side first and close the loop before calling Connect.
func New(cfg Config, coord *coordinator.Coordinator, log *zap.Logger) *Adapter {
	a := &Adapter{cfg: cfg, coord: coord, log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(a.onConnectionLost).
		SetOnConnectHandler(a.onConnect)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	a.client = mqtt.NewClient(opts)
	return a
}

// SetCoordinator closes the circular wiring described on New. It must
// be called before Connect.
func (a *Adapter) SetCoordinator(coord *coordinator.Coordinator) {
	a.coord = coord
}

// Connect opens the broker connection and subscribes to every pattern
// spec §4.4 names. Subscriptions are re-installed automatically by
// onConnect on reconnect, matching paho's documented reconnect model.
func (a *Adapter) Connect() error {
	token := a.client.Connect()
	token.Wait()
	return token.Error()
}

func (a *Adapter) onConnect(client mqtt.Client) {
	site := a.cfg.SiteID
	subscriptions := map[string]mqtt.MessageHandler{
		fmt.Sprintf("%s/charger/+/telemetry", site):      a.handleTelemetry,
		fmt.Sprintf("%s/charger/+/session/start", site):  a.handleSessionStart,
		fmt.Sprintf("%s/charger/+/session/stop", site):   a.handleSessionStop,
		fmt.Sprintf("%s/charger/+/session/update", site): a.handleSessionUpdate,
		fmt.Sprintf("%s/bess/status", site):               a.handleBESSStatus,
		fmt.Sprintf("%s/bess/telemetry", site):            a.handleBESSStatus,
	}
	for topic, handler := range subscriptions {
		if token := client.Subscribe(topic, a.cfg.QoS, handler); token.Wait() && token.Error() != nil {
			a.log.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	a.log.Info("mqtt fabric connected", zap.String("broker", a.cfg.BrokerURL), zap.Int("subscriptions", len(subscriptions)))
}

func (a *Adapter) onConnectionLost(_ mqtt.Client, err error) {
	a.log.Warn("mqtt connection lost", zap.Error(err))
}

// Close disconnects cleanly, waiting up to 250ms for in-flight QoS 1
// acknowledgements per paho's documented disconnect contract.
func (a *Adapter) Close() error {
	a.client.Disconnect(250)
	return nil
}

// Publish implements ports.MessageFabric for the coordinator's
// outbound commands.
func (a *Adapter) Publish(msg ports.OutboundMessage) error {
	token := a.client.Publish(msg.Topic, a.cfg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	return token.Error()
}

type sessionStartPayload struct {
	Timestamp       time.Time `json:"timestamp"`
	ChargerID       string    `json:"charger_id"`
	ConnectorID     int       `json:"connector_id"`
	SessionID       string    `json:"session_id"`
	VehicleMaxPower float64   `json:"vehicle_max_power"`
	UserID          string    `json:"user_id"`
	RFIDTag         string    `json:"rfid_tag"`
}

type sessionStopPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	ChargerID   string    `json:"charger_id"`
	ConnectorID int       `json:"connector_id"`
	SessionID   string    `json:"session_id"`
	TotalEnergy float64   `json:"total_energy"`
	Reason      string    `json:"reason"`
}

type sessionUpdatePayload struct {
	Timestamp       time.Time `json:"timestamp"`
	ChargerID       string    `json:"charger_id"`
	ConnectorID     int       `json:"connector_id"`
	SessionID       string    `json:"session_id"`
	ConsumedPower   float64   `json:"consumed_power"`
	VehicleMaxPower float64   `json:"vehicle_max_power"`
	VehicleSOC      *float64  `json:"vehicle_soc"`
	EnergyDelivered float64   `json:"energy_delivered"`
}

type telemetryPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	ChargerID   string    `json:"charger_id"`
	ConnectorID int       `json:"connector_id"`
	Power       float64   `json:"power"`
	SessionID   *string   `json:"session_id"`
	VehicleSOC  *float64  `json:"vehicle_soc"`
	Status      string    `json:"status"`
}

type bessStatusPayload struct {
	Timestamp time.Time `json:"timestamp"`
	SOC       float64   `json:"soc"`
	Power     float64   `json:"power"`
}

// handleSessionStart and its siblings all run on paho's internal
// delivery goroutine. Decode failures are logged as PROTOCOL_ERROR and
// dropped. A decoded message is handed to the coordinator and the
// handler waits for its reply, so paho's goroutine is blocked until the
// coordinator answers or the 5-second call context expires.
func (a *Adapter) handleSessionStart(_ mqtt.Client, msg mqtt.Message) {
	var p sessionStartPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logProtocolError(msg.Topic(), err)
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if _, err := a.coord.StartSession(ctx, coordinator.StartSessionRequest{
		ChargerID:       p.ChargerID,
		ConnectorID:     p.ConnectorID,
		VehicleMaxPower: p.VehicleMaxPower,
		UserID:          p.UserID,
		RFIDTag:         p.RFIDTag,
		Timestamp:       p.Timestamp,
	}); err != nil {
		a.log.Warn("session start rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

func (a *Adapter) handleSessionStop(_ mqtt.Client, msg mqtt.Message) {
	var p sessionStopPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logProtocolError(msg.Topic(), err)
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if _, err := a.coord.StopSession(ctx, coordinator.StopSessionRequest{
		SessionID: p.SessionID,
		Timestamp: p.Timestamp,
	}); err != nil {
		a.log.Warn("session stop rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

func (a *Adapter) handleSessionUpdate(_ mqtt.Client, msg mqtt.Message) {
	var p sessionUpdatePayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logProtocolError(msg.Topic(), err)
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if _, err := a.coord.UpdatePower(ctx, coordinator.PowerUpdateRequest{
		SessionID:       p.SessionID,
		ConsumedPower:   p.ConsumedPower,
		VehicleMaxPower: p.VehicleMaxPower,
		TotalEnergy:     p.EnergyDelivered,
		VehicleSOC:      p.VehicleSOC,
		Timestamp:       p.Timestamp,
	}); err != nil {
		a.log.Warn("power update rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// handleTelemetry covers free-running device telemetry that does not
// necessarily reference a session (spec §4.4); when it does carry a
// session ID it is folded into the same power-update path as an
// explicit session/update message.
func (a *Adapter) handleTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var p telemetryPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logProtocolError(msg.Topic(), err)
		return
	}
	if p.SessionID == nil {
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if _, err := a.coord.UpdatePower(ctx, coordinator.PowerUpdateRequest{
		SessionID:     *p.SessionID,
		ConsumedPower: p.Power,
		VehicleSOC:    p.VehicleSOC,
		Timestamp:     p.Timestamp,
	}); err != nil {
		if derr, ok := err.(*domain.Error); !ok || derr.Kind != domain.ErrSessionNotFound {
			a.log.Warn("telemetry power update rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	}
}

func (a *Adapter) handleBESSStatus(_ mqtt.Client, msg mqtt.Message) {
	var p bessStatusPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		a.logProtocolError(msg.Topic(), err)
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.coord.BatteryTelemetry(ctx, coordinator.BatteryTelemetryRequest{
		SOC:       p.SOC,
		Power:     p.Power,
		Timestamp: p.Timestamp,
	}); err != nil {
		a.log.Warn("bess telemetry rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

func (a *Adapter) logProtocolError(topic string, cause error) {
	perr := domain.NewProtocolError(topic, cause)
	a.log.Warn("dropping malformed mqtt message", zap.String("topic", topic), zap.Error(perr))
}

func (a *Adapter) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
