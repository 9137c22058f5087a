package models

import (
	"encoding/json"
	"time"
)

// Command is a control instruction waiting for a machine's next heartbeat.
type Command struct {
	Name     string          `json:"command"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// CommandResult is what an agent reports back after running a command.
type CommandResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}
