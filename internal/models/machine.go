package models

import "time"

// Machine liveness states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Metrics is the snapshot an agent reports on every heartbeat.
type Metrics struct {
	CPUPercent      float64 `json:"cpuPercent"`
	RAMPercent      float64 `json:"ramPercent"`
	DiskFreePercent float64 `json:"diskFreePercent"`
	TemperatureC    float64 `json:"temperatureC"`
}

// Machine is the core domain object representing a monitored host.
// Shared between the server and storage layers.
type Machine struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Metrics
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DisplayName falls back to the ID for machines registered without a name.
func (m *Machine) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// IsOnline reports whether the machine is currently online.
func (m *Machine) IsOnline() bool {
	return m.Status == StatusOnline
}
