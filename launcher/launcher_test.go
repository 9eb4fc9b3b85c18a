package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func portEntries(env []string) []string {
	var out []string
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "PORT=" {
			out = append(out, kv)
		}
	}
	return out
}

func TestResolve(t *testing.T) {
	t.Run("PORT unset defaults to 8080", func(t *testing.T) {
		plan, err := Resolve(envLookup(map[string]string{}), []string{"HOME=/root"})
		require.NoError(t, err)
		assert.Equal(t, "8080", plan.Port)
		assert.Equal(t, DefaultBinary, plan.Binary)
		assert.Equal(t, []string{"PORT=8080"}, portEntries(plan.Env))
		assert.Contains(t, plan.Env, "HOME=/root")
	})

	t.Run("PORT empty defaults to 8080", func(t *testing.T) {
		plan, err := Resolve(envLookup(map[string]string{"PORT": ""}), []string{"PORT="})
		require.NoError(t, err)
		assert.Equal(t, "8080", plan.Port)
		assert.Equal(t, []string{"PORT=8080"}, portEntries(plan.Env))
	})

	t.Run("PORT=9090 is honored", func(t *testing.T) {
		plan, err := Resolve(envLookup(map[string]string{"PORT": "9090"}), []string{"PORT=9090"})
		require.NoError(t, err)
		assert.Equal(t, "9090", plan.Port)
		assert.Equal(t, []string{"PORT=9090"}, portEntries(plan.Env))
	})

	t.Run("Invalid PORT fails", func(t *testing.T) {
		_, err := Resolve(envLookup(map[string]string{"PORT": "eighty"}), nil)
		assert.Error(t, err)
	})

	t.Run("APP_BINARY and STARTUP_DELAY", func(t *testing.T) {
		plan, err := Resolve(envLookup(map[string]string{
			"APP_BINARY":    "/opt/bot/main",
			"STARTUP_DELAY": "250ms",
		}), nil)
		require.NoError(t, err)
		assert.Equal(t, "/opt/bot/main", plan.Binary)
		assert.Equal(t, 250*time.Millisecond, plan.StartupDelay)
	})

	t.Run("Invalid STARTUP_DELAY fails", func(t *testing.T) {
		_, err := Resolve(envLookup(map[string]string{"STARTUP_DELAY": "soon"}), nil)
		assert.Error(t, err)
	})
}

func TestPlanValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing binary", func(t *testing.T) {
		plan := &Plan{Binary: filepath.Join(dir, "missing")}
		err := plan.Validate()
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})

	t.Run("Directory is rejected", func(t *testing.T) {
		plan := &Plan{Binary: dir}
		assert.ErrorIs(t, plan.Validate(), ErrNotExecutable)
	})

	t.Run("Non executable file is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
		plan := &Plan{Binary: path}
		assert.ErrorIs(t, plan.Validate(), ErrNotExecutable)
	})

	t.Run("Executable file passes", func(t *testing.T) {
		path := filepath.Join(dir, "main")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
		plan := &Plan{Binary: path}
		assert.NoError(t, plan.Validate())
	})
}

func TestRunFailsWithoutBinary(t *testing.T) {
	plan := &Plan{Binary: filepath.Join(t.TempDir(), "main"), Port: "8080"}
	err := Run(plan)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}
