package scripting

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// convertGoToLua converts common Go values to Lua. Unsupported types are
// passed as their fmt representation.
func convertGoToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case time.Time:
		return lua.LNumber(val.Unix())
	case time.Duration:
		return lua.LNumber(val.Seconds())
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for _, item := range val {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case []map[string]interface{}:
		t := L.NewTable()
		for _, item := range val {
			t.Append(convertGoToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	case map[string]interface{}:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, convertGoToLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// convertLuaToGo converts a Lua value to Go. Tables with keys 1..n become
// []interface{}; any other table becomes map[string]interface{}. Numbers
// are float64.
func convertLuaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == countKeys(val) {
			out := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, convertLuaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = convertLuaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
