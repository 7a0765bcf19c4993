// Package handlers implements the REST façade's four endpoints (spec
// §6): session start/stop/power-update and a station status read. This
// is explicitly not a CRUD surface — no listing, pagination, or OpenAPI
// documentation, per the spec's non-goals.
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/evcharge/ems-coordinator/internal/coordinator"
)

// SessionHandler wires the fiber routes to the coordinator.
type SessionHandler struct {
	coord *coordinator.Coordinator
}

func NewSessionHandler(coord *coordinator.Coordinator) *SessionHandler {
	return &SessionHandler{coord: coord}
}

type startSessionBody struct {
	ChargerID       string  `json:"chargerId"`
	ConnectorID     int     `json:"connectorId"`
	VehicleMaxPower float64 `json:"vehicleMaxPower"`
	UserID          string  `json:"userId"`
	RFIDTag         string  `json:"rfidTag"`
}

// Start handles POST /sessions.
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var body startSessionBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	s, err := h.coord.StartSession(c.Context(), coordinator.StartSessionRequest{
		ChargerID:       body.ChargerID,
		ConnectorID:     body.ConnectorID,
		VehicleMaxPower: body.VehicleMaxPower,
		UserID:          body.UserID,
		RFIDTag:         body.RFIDTag,
		Timestamp:       time.Now(),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId":      s.SessionID,
		"allocatedPower": s.AllocatedPower,
	})
}

// Stop handles POST /sessions/:id/stop.
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.coord.StopSession(c.Context(), coordinator.StopSessionRequest{
		SessionID: sessionID,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

type powerUpdateBody struct {
	ConsumedPower   float64  `json:"consumedPower"`
	VehicleMaxPower float64  `json:"vehicleMaxPower"`
	TotalEnergy     float64  `json:"totalEnergy"`
	VehicleSOC      *float64 `json:"vehicleSoc"`
}

// PowerUpdate handles POST /sessions/:id/power-update.
func (h *SessionHandler) PowerUpdate(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	var body powerUpdateBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	s, err := h.coord.UpdatePower(c.Context(), coordinator.PowerUpdateRequest{
		SessionID:       sessionID,
		ConsumedPower:   body.ConsumedPower,
		VehicleMaxPower: body.VehicleMaxPower,
		TotalEnergy:     body.TotalEnergy,
		VehicleSOC:      body.VehicleSOC,
		Timestamp:       time.Now(),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"newAllocatedPower": s.AllocatedPower})
}

// StationStatus handles GET /station/status.
func (h *SessionHandler) StationStatus(c *fiber.Ctx) error {
	status, err := h.coord.StationStatus(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(status)
}
