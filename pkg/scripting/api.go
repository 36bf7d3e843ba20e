package scripting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lexlapax/engram/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// registerAPIFunctions installs the engram table available to every script.
func registerAPIFunctions(L *lua.LState) {
	engram := L.NewTable()
	L.SetField(engram, "log", L.NewFunction(apiLog))
	L.SetField(engram, "now", L.NewFunction(apiNow))
	L.SetField(engram, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(engram, "hours_since", L.NewFunction(apiHoursSince))
	L.SetField(engram, "uuid", L.NewFunction(apiUUID))
	L.SetField(engram, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(engram, "json_decode", L.NewFunction(apiJSONDecode))
	L.SetGlobal("engram", engram)
}

// apiLog logs a message at the given level: engram.log(level, message).
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}
	return 0
}

// apiNow returns the current time as a Unix timestamp.
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp, RFC 3339 in UTC by default.
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	format := L.OptString(2, time.RFC3339)

	t := time.Unix(int64(timestamp), 0).UTC()
	L.Push(lua.LString(t.Format(format)))
	return 1
}

// apiHoursSince returns the hours elapsed since a Unix timestamp, such as
// a record's created_at or last_accessed_at. Future timestamps yield 0.
func apiHoursSince(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	elapsed := time.Since(time.Unix(int64(timestamp), 0)).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	L.Push(lua.LNumber(elapsed))
	return 1
}

func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.New().String()))
	return 1
}

// apiJSONEncode encodes a Lua value as JSON. On failure it returns nil and
// the error message.
func apiJSONEncode(L *lua.LState) int {
	data, err := json.Marshal(convertLuaToGo(L.CheckAny(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(data))
	return 1
}

// apiJSONDecode decodes a JSON string into Lua values.
func apiJSONDecode(L *lua.LState) int {
	var v interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(convertGoToLua(L, v))
	return 1
}
