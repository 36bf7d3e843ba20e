package scripting

import (
	"fmt"
	"strings"

	"github.com/lexlapax/engram/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// unsafeGlobals are removed from a sandboxed state.
var unsafeGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module", "package", "io", "os", "debug",
}

// setupSandbox opens only the base, table, string and math libraries on a
// state created with SkipOpenLibs, then strips every global that could
// reach the filesystem or load code.
func setupSandbox(L *lua.LState) {
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			log.Error("Failed to open Lua library", "library", lib.name, "error", err)
		}
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(safePrint))
}

// safePrint redirects Lua's print to the structured logger.
func safePrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, top)
	for i := 1; i <= top; i++ {
		parts[i-1] = fmt.Sprint(convertLuaToGo(L.Get(i)))
	}
	log.Info("Lua print", "message", strings.Join(parts, "\t"))
	return 0
}
