package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lexlapax/engram/pkg/engram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "engram.yaml")
	yaml := "logging:\n  level: error\npersistence:\n  type: boltdb\n  boltdb:\n    path: " +
		filepath.Join(dir, "engram.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestRootCmd_PersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	id := strings.TrimSpace(run(t, "--config", cfg, "remember", "--kind", "semantic", "--tags", "cooking", "pasta", "needs", "salted", "water"))
	require.Len(t, id, 36)

	out := run(t, "--config", cfg, "query", "pasta")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "pasta needs salted water")

	out = run(t, "--config", cfg, "query", "--tag", "gardening")
	assert.NotContains(t, out, id)

	backup := filepath.Join(dir, "backup.json")
	run(t, "--config", cfg, "export", "-o", backup)
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(data), id)

	out = run(t, "--config", cfg, "stats")
	assert.Contains(t, out, `"records": 1`)

	out = run(t, "--config", cfg, "consolidate")
	assert.Contains(t, out, `"scanned": 1`)

	other := t.TempDir()
	otherCfg := writeConfig(t, other)
	out = run(t, "--config", otherCfg, "import", backup)
	assert.Equal(t, "imported 1 memories\n", out)
	out = run(t, "--config", otherCfg, "stats")
	assert.Contains(t, out, `"records": 1`)
}

func TestRootCmd_Errors(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	cmd.SetArgs([]string{"--env-file", "", "remember", "--kind", "dream", "flying"})
	assert.Error(t, cmd.Execute())

	cmd = NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--env-file", "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats"})
	assert.Error(t, cmd.Execute())
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	e := engram.New()
	defer e.Close()
	var out bytes.Buffer
	s := &session{engine: e, out: &out}

	exec := func(line string) string {
		out.Reset()
		assert.False(t, s.execute(ctx, line))
		return out.String()
	}

	res := exec("remember semantic water boils at sea level")
	require.True(t, strings.HasPrefix(res, "remembered "))
	water := strings.TrimSpace(strings.TrimPrefix(res, "remembered "))

	res = exec("remember kettle whistled loudly")
	kettle := strings.TrimSpace(strings.TrimPrefix(res, "remembered "))
	rec, ok := e.Peek(kettle)
	require.True(t, ok)
	assert.Equal(t, "kettle whistled loudly", rec.Content)

	assert.Contains(t, exec("query boils"), "water boils at sea level")
	assert.Contains(t, exec("recall "+water), `"kind": "SEMANTIC"`)
	assert.Equal(t, "no such memory\n", exec("recall missing"))

	assert.Equal(t, "connected\n", exec("connect "+water+" "+kettle))
	assert.Contains(t, exec("related "+water), kettle)
	assert.Equal(t, "disconnected\n", exec("disconnect "+water+" "+kettle))
	assert.Equal(t, "cannot connect\n", exec("connect "+water+" missing"))

	assert.Equal(t, "reinforced\n", exec("reinforce "+water+" 0.5"))
	assert.Contains(t, exec("reinforce "+water+" 5"), "error:")
	assert.Contains(t, exec("emotion nope"), "invalid valence")
	assert.Contains(t, exec("consolidate"), "scanned 2")
	assert.Contains(t, exec("stats"), `"records": 2`)
	assert.Contains(t, exec("connect"), "usage: connect")
	assert.Contains(t, exec("fly"), "unknown command")
	assert.Contains(t, exec("help"), "remember [kind] <text>")

	assert.Equal(t, "forgotten\n", exec("forget "+kettle))
	assert.Equal(t, "no such memory\n", exec("forget "+kettle))

	assert.True(t, s.execute(ctx, "quit"))
}
