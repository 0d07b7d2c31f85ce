package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"run", "migrate", "enqueue", "stats", "checkpoint", "regions"} {
		assert.Contains(t, out, name)
	}
}

func TestRegionsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"region;priority;label;lat;lng\nSplit;2;riva;43,50;16,44\nZagreb;1;centar;45,81;15,98\nZagreb;1;jarun;45,78;15,92\n"), 0o644))

	out, err := execute(t, "regions", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 region(s), 3 coordinate(s)")
	assert.Less(t, bytes.Index([]byte(out), []byte("Zagreb")), bytes.Index([]byte(out), []byte("Split")),
		"lower priority is scanned first")
}

func TestRegionsCommandRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := execute(t, "regions", path)
	require.Error(t, err)
}

func TestEnqueueValidatesFlags(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  driver: memory\n"), 0o644))

	_, err := execute(t, "--config", cfgPath, "enqueue", "place-1", "--menus", "--priority", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority must be 0 or 1")

	_, err = execute(t, "--config", cfgPath, "enqueue", "place-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")

	_, err = execute(t, "--config", cfgPath, "enqueue", "place-1", "--menus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the postgres storage driver")
}
