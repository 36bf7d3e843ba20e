package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// LuaEngine implements Engine on gopher-lua. A Lua state is not safe for
// concurrent use, so every call is serialized.
type LuaEngine struct {
	config Config
	state  *lua.LState
	mu     sync.Mutex
	closed bool
}

// NewLuaEngine creates an engine with the engram API table registered.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	def := DefaultConfig()
	if config.CallStackSize <= 0 {
		config.CallStackSize = def.CallStackSize
	}
	if config.RegistryMaxSize <= 0 {
		config.RegistryMaxSize = def.RegistryMaxSize
	}

	L := lua.NewState(lua.Options{
		CallStackSize:       config.CallStackSize,
		RegistryMaxSize:     config.RegistryMaxSize,
		SkipOpenLibs:        config.EnableSandboxing,
		IncludeGoStackTrace: false,
	})
	if config.EnableSandboxing {
		setupSandbox(L)
	}
	registerAPIFunctions(L)

	log.Debug("Initialized Lua engine", "sandboxed", config.EnableSandboxing, "timeout_ms", config.ScriptTimeoutMs)
	return &LuaEngine{config: config, state: L}, nil
}

// LoadScript implements Engine.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrClosed
	}

	fn, err := e.state.Load(strings.NewReader(string(content)), name)
	if err != nil {
		return fmt.Errorf("%w: failed to compile script %s: %v", errors.ErrLuaExecution, name, err)
	}
	e.state.Push(fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("%w: failed to run script %s: %v", errors.ErrLuaExecution, name, err)
	}
	log.Debug("Loaded Lua script", "name", name)
	return nil
}

// LoadScriptFile implements Engine.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir implements Engine.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read script directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.LoadScriptFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// HasFunction implements Engine.
func (e *LuaEngine) HasFunction(funcName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	_, ok := e.state.GetGlobal(funcName).(*lua.LFunction)
	return ok
}

// ExecuteFunction implements Engine. The call is bounded by ctx and by
// ScriptTimeoutMs, whichever ends first. While it runs, the global ctx
// table exposes the caller's deadline, if any, as a Unix timestamp.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.ErrClosed
	}

	fn, ok := e.state.GetGlobal(funcName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, funcName)
	}

	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	e.state.SetGlobal("ctx", contextTable(e.state, ctx))
	defer e.state.SetGlobal("ctx", lua.LNil)

	luaArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		luaArgs[i] = convertGoToLua(e.state, arg)
	}

	top := e.state.GetTop()
	err := e.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...)
	if err != nil {
		e.state.SetTop(top)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrLuaExecution, funcName, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrLuaExecution, funcName, err)
	}
	ret := e.state.Get(-1)
	e.state.Pop(1)
	return convertLuaToGo(ret), nil
}

// Close implements Engine.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.state.Close()
	return nil
}

func contextTable(L *lua.LState, ctx context.Context) *lua.LTable {
	t := L.NewTable()
	if deadline, ok := ctx.Deadline(); ok {
		t.RawSetString("deadline", lua.LNumber(deadline.Unix()))
	}
	return t
}
