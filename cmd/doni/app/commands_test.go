package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/worker"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	t.Setenv("DONI_CONFIG", "")

	cmd := NewRootCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "reconcile", "import", "migrate", "version"})

	// A second root can be built; flags are not shared between instances.
	assert.NotPanics(t, func() { NewRootCmd() })
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("DONI_CONFIG", "")

	out, err := execute(t, "", "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	out, err = execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "doni "))
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv("DONI_CONFIG", "")
		cmd := NewRootCmd()
		require.NoError(t, cmd.ParseFlags(nil))

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, config.StorageTypeMemory, cfg.GetStorageType())
	})

	t.Run("flag", func(t *testing.T) {
		t.Setenv("DONI_CONFIG", "")
		path := writeConfig(t, "storage:\n  type: badger\n  badger:\n    path: /var/lib/doni\n")
		cmd := NewRootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--config", path}))

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, config.StorageTypeBadger, cfg.GetStorageType())
	})

	t.Run("environment", func(t *testing.T) {
		path := writeConfig(t, "server:\n  address: \":9000\"\n")
		t.Setenv("DONI_CONFIG", path)
		cmd := NewRootCmd()
		require.NoError(t, cmd.ParseFlags(nil))

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Server.GetAddress())
	})

	t.Run("invalid file", func(t *testing.T) {
		t.Setenv("DONI_CONFIG", "")
		path := writeConfig(t, "storage:\n  type: etcd\n")
		cmd := NewRootCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--config", path}))

		_, err := loadConfig(cmd)
		assert.ErrorContains(t, err, "failed to load configuration")
	})
}

func TestReconcileOnce(t *testing.T) {
	t.Setenv("DONI_CONFIG", "")

	out, err := execute(t, "", "reconcile", "--once")
	require.NoError(t, err)

	var summary map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 0, summary["hardware"])
	assert.Contains(t, summary, "submitted")
}

func TestImportCommand(t *testing.T) {
	t.Setenv("DONI_CONFIG", "")

	_, err := execute(t, "", "import")
	assert.ErrorContains(t, err, `required flag(s) "worker" not set`)

	_, err = execute(t, "", "import", "--worker", "fake")
	assert.ErrorIs(t, err, service.ErrNotImporter)

	// Only the fake worker is enabled without a configuration file
	_, err = execute(t, "", "import", "--worker", "ironic", "--dry-run")
	assert.ErrorIs(t, err, worker.ErrUnknownWorker)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	t.Setenv("DONI_CONFIG", "")

	_, err := execute(t, "", "migrate", "up", "--yes")
	assert.ErrorContains(t, err, "database configuration is required")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		wantErr error
	}{
		{name: "yes flag", args: []string{"--yes"}},
		{name: "answered yes", stdin: "yes\n"},
		{name: "answered y", stdin: "Y\n"},
		{name: "answered no", stdin: "no\n", wantErr: errCancelled},
		{name: "no newline", stdin: "y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newMigrateCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetOut(&bytes.Buffer{})

			err := confirm(cmd, "Continue?")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
