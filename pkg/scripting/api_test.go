package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiScript = `
function log_all()
	engram.log("debug", "scoring started")
	engram.log("warning", "record is stale")
	engram.log("error", "hook misconfigured")
	engram.log("info", "scoring finished")
	return true
end

function stamp()
	return engram.now()
end

function day_of(ts, layout)
	if layout == nil then
		return engram.format_time(ts)
	end
	return engram.format_time(ts, layout)
end

function age(ts)
	return engram.hours_since(ts)
end

function fresh_ids()
	local a, b = engram.uuid(), engram.uuid()
	return {a, b}
end

function summarize(report)
	local encoded = engram.json_encode(report)
	local decoded = engram.json_decode(encoded)
	return decoded.reinforced .. "/" .. decoded.scanned
end

function encode(v)
	return engram.json_encode(v)
end

function decode_bad()
	local v, err = engram.json_decode("{not json")
	return {missing = v == nil, message = err}
end

function deadline()
	if ctx == nil then
		return -1
	end
	return ctx.deadline
end
`

func newAPIEngine(t *testing.T, cfg Config) *LuaEngine {
	t.Helper()
	engine, err := NewLuaEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	require.NoError(t, engine.LoadScript("api", []byte(apiScript)))
	return engine
}

func TestLuaAPI(t *testing.T) {
	ctx := context.Background()
	engine := newAPIEngine(t, DefaultConfig())

	t.Run("log accepts every level", func(t *testing.T) {
		result, err := engine.ExecuteFunction(ctx, "log_all")
		require.NoError(t, err)
		assert.Equal(t, true, result)
	})

	t.Run("now", func(t *testing.T) {
		result, err := engine.ExecuteFunction(ctx, "stamp")
		require.NoError(t, err)
		assert.InDelta(t, float64(time.Now().Unix()), result, 5)
	})

	t.Run("format_time", func(t *testing.T) {
		ts := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC).Unix()
		result, err := engine.ExecuteFunction(ctx, "day_of", ts)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-09T14:30:00Z", result)

		result, err = engine.ExecuteFunction(ctx, "day_of", ts, "2006-01-02")
		require.NoError(t, err)
		assert.Equal(t, "2024-03-09", result)
	})

	t.Run("hours_since", func(t *testing.T) {
		result, err := engine.ExecuteFunction(ctx, "age", time.Now().Add(-36*time.Hour))
		require.NoError(t, err)
		assert.InDelta(t, 36.0, result, 0.1)

		result, err = engine.ExecuteFunction(ctx, "age", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, float64(0), result)
	})

	t.Run("uuid", func(t *testing.T) {
		result, err := engine.ExecuteFunction(ctx, "fresh_ids")
		require.NoError(t, err)
		ids, ok := result.([]interface{})
		require.True(t, ok)
		require.Len(t, ids, 2)
		assert.Len(t, ids[0], 36)
		assert.NotEqual(t, ids[0], ids[1])
	})

	t.Run("json", func(t *testing.T) {
		report := map[string]interface{}{"scanned": 12, "reinforced": 3}
		result, err := engine.ExecuteFunction(ctx, "summarize", report)
		require.NoError(t, err)
		assert.Equal(t, "3/12", result)

		result, err = engine.ExecuteFunction(ctx, "encode", map[string]interface{}{"kind": "episodic", "priority": 4})
		require.NoError(t, err)
		assert.JSONEq(t, `{"kind":"episodic","priority":4}`, result.(string))

		result, err = engine.ExecuteFunction(ctx, "decode_bad")
		require.NoError(t, err)
		out := result.(map[string]interface{})
		assert.Equal(t, true, out["missing"])
		assert.NotEmpty(t, out["message"])
	})
}

func TestLuaAPI_ContextDeadline(t *testing.T) {
	deadline := time.Now().Add(5 * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	engine := newAPIEngine(t, Config{EnableSandboxing: true})
	result, err := engine.ExecuteFunction(ctx, "deadline")
	require.NoError(t, err)
	assert.Equal(t, float64(deadline.Unix()), result)

	// Without a deadline or script timeout the table is empty.
	result, err = engine.ExecuteFunction(context.Background(), "deadline")
	require.NoError(t, err)
	assert.Nil(t, result)
}
