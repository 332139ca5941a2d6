package core

import (
	"errors"
	"sync"

	"godcc/protocol"
)

// CommandHandler handles one command's payload. The handler decodes its own
// arguments from the data pointer and advances it.
type CommandHandler func(data *[]byte) error

// Command binds a fixed protocol ID to its handler. Name only exists for
// diagnostics; the wire carries IDs.
type Command struct {
	ID      uint16
	Name    string
	Handler CommandHandler
}

// CommandRegistry holds the station's command table.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[uint16]*Command)}
}

// RegisterCommand adds a command to the global registry.
func RegisterCommand(id uint16, name string, handler CommandHandler) {
	globalRegistry.Register(id, name, handler)
}

// Register adds a command; re-registering an ID replaces the handler.
func (r *CommandRegistry) Register(id uint16, name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[id] = &Command{ID: id, Name: name, Handler: handler}
}

// GetCommand retrieves a command by ID.
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Count returns the number of registered commands.
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	return cmd.Handler(data)
}

// DispatchCommand dispatches through the global registry; targets wire this
// into their link handler.
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// Global link used for responses.
var globalLink *protocol.Link

// SetGlobalLink registers the link responses are sent on.
func SetGlobalLink(l *protocol.Link) {
	globalLink = l
}

// SendResponse frames a response on the global link, if one is configured.
func SendResponse(rspID uint16, args func(output protocol.OutputBuffer)) {
	if globalLink != nil {
		globalLink.SendResponse(rspID, args)
	}
}
