package server

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
)

// Float decodes a JSON number or a numeric string. Anything else, including
// null, booleans and unparsable strings, decodes to zero without error, so a
// sloppy agent never has its heartbeat rejected over a metric.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	*f = 0
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		*f = Float(x)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err == nil && !math.IsNaN(p) && !math.IsInf(p, 0) {
			*f = Float(p)
		}
	}
	return nil
}

// HeartbeatRequest is the report an agent sends on every tick.
type HeartbeatRequest struct {
	MachineID       string `json:"machineId"`
	CPUPercent      Float  `json:"cpuPercent"`
	RAMPercent      Float  `json:"ramPercent"`
	DiskFreePercent Float  `json:"diskFreePercent"`
	TemperatureC    Float  `json:"temperatureC"`
}

func (r HeartbeatRequest) Metrics() models.Metrics {
	return models.Metrics{
		CPUPercent:      float64(r.CPUPercent),
		RAMPercent:      float64(r.RAMPercent),
		DiskFreePercent: float64(r.DiskFreePercent),
		TemperatureC:    float64(r.TemperatureC),
	}
}

// HeartbeatResponse is what the agent gets back. Command and Payload are
// null when nothing is pending.
type HeartbeatResponse struct {
	Message string          `json:"message"`
	Command *string         `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// CommandRequest queues a command for a machine.
type CommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterRequest stands in for the inventory system creating a machine.
type RegisterRequest struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
}

type PingRequest struct{}

type PingResponse struct {
	Message string `json:"message"`
}
