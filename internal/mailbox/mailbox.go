// Package mailbox holds at most one pending command per machine until the
// machine's next heartbeat collects it.
package mailbox

import (
	"sync"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
)

// Mailbox is safe for concurrent use. Take is an atomic check-and-remove, so
// two heartbeats racing for the same machine never both receive a command.
type Mailbox struct {
	entries sync.Map // machine id -> models.Command
}

func New() *Mailbox {
	return &Mailbox{}
}

// Add queues cmd for machineID, replacing any command not yet collected.
func (m *Mailbox) Add(machineID string, cmd models.Command) {
	m.entries.Store(machineID, cmd)
}

// Take removes and returns the pending command for machineID.
func (m *Mailbox) Take(machineID string) (models.Command, bool) {
	v, ok := m.entries.LoadAndDelete(machineID)
	if !ok {
		return models.Command{}, false
	}
	return v.(models.Command), true
}

// Peek returns the pending command without consuming it.
func (m *Mailbox) Peek(machineID string) (models.Command, bool) {
	v, ok := m.entries.Load(machineID)
	if !ok {
		return models.Command{}, false
	}
	return v.(models.Command), true
}

// Len counts pending commands.
func (m *Mailbox) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
