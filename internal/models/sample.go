package models

import "time"

// TelemetrySample is one heartbeat's metrics as kept in the per-machine history.
type TelemetrySample struct {
	MachineID string `json:"machineId"`
	Metrics
	CapturedAt time.Time `json:"capturedAt"`
}
