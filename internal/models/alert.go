package models

import "time"

// Alert types recognised by the engine. The type space is open.
const (
	AlertHighCPU = "HIGH_CPU"
	AlertOffline = "OFFLINE"
)

type Alert struct {
	ID         string     `json:"id"`
	MachineID  string     `json:"machineId"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// AlertFilter narrows the alert read path. A nil Resolved matches both states.
type AlertFilter struct {
	Resolved *bool
	Limit    int
}
