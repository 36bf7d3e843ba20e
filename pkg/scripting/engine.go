// Package scripting embeds a sandboxed Lua interpreter so memory behaviour
// (score adjustment, post-consolidation reactions) can be tuned without
// recompiling.
package scripting

import (
	"context"
	"errors"
)

// ErrFunctionNotFound is returned when a called function is not defined.
var ErrFunctionNotFound = errors.New("lua function not found")

// Engine is the interface for the Lua scripting engine.
type Engine interface {
	// LoadScript loads a Lua script with the given name and content.
	LoadScript(name string, content []byte) error

	// LoadScriptFile loads a Lua script from a file path.
	LoadScriptFile(path string) error

	// LoadScriptDir loads all *.lua scripts from a directory, in name order.
	LoadScriptDir(dir string) error

	// HasFunction reports whether a global Lua function named funcName exists.
	HasFunction(funcName string) bool

	// ExecuteFunction calls a Lua function with the given arguments and
	// returns its first result converted to Go.
	ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error)

	// Close releases resources associated with the engine.
	Close() error
}

// Config contains configuration options for the scripting engine.
type Config struct {
	// EnableSandboxing restricts access to potentially dangerous Lua modules like os and io
	EnableSandboxing bool `yaml:"enable_sandboxing"`

	// ScriptTimeoutMs sets a maximum execution time for a single call in milliseconds
	ScriptTimeoutMs int `yaml:"script_timeout_ms"`

	// CallStackSize bounds Lua call depth
	CallStackSize int `yaml:"call_stack_size"`

	// RegistryMaxSize bounds the Lua registry (value stack) growth
	RegistryMaxSize int `yaml:"registry_max_size"`
}

// DefaultConfig returns the default configuration for the scripting engine.
func DefaultConfig() Config {
	return Config{
		EnableSandboxing: true,
		ScriptTimeoutMs:  1000,
		CallStackSize:    120,
		RegistryMaxSize:  1024 * 80,
	}
}
