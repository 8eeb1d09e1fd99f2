package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CommandHandler applies the value of a validated write frame
type CommandHandler func(value uint16)

// Command is a writable register and its handler
type Command struct {
	Address uint8
	Name    string
	Handler CommandHandler
}

// ErrUnknownCommand is returned by Dispatch for addresses with no handler.
var ErrUnknownCommand = errors.New("unknown command address")

// CommandRegistry maps register addresses to write handlers
type CommandRegistry struct {
	mu         sync.RWMutex
	commands   map[uint8]*Command
	nameToAddr map[string]uint8
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands:   make(map[uint8]*Command),
		nameToAddr: make(map[string]uint8),
	}
}

// Register adds a handler for addr. A second registration for the same
// address replaces the first.
func (r *CommandRegistry) Register(addr uint8, name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.commands[addr]; exists {
		delete(r.nameToAddr, old.Name)
	}

	r.commands[addr] = &Command{
		Address: addr,
		Name:    name,
		Handler: handler,
	}
	r.nameToAddr[name] = addr
}

// GetCommand retrieves a command by address
func (r *CommandRegistry) GetCommand(addr uint8) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[addr]
	return cmd, ok
}

// Lookup finds a command by name
func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.nameToAddr[name]
	if !ok {
		return nil, false
	}
	return r.commands[addr], true
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for addr
func (r *CommandRegistry) Dispatch(addr uint8, value uint16) error {
	cmd, ok := r.GetCommand(addr)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, addr)
	}

	cmd.Handler(value)
	return nil
}

// Commands returns all commands ordered by address
func (r *CommandRegistry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
