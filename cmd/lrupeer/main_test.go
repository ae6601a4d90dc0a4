package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/genlru/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCmd_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_size: 50\nnode:\n  name: from-file\n"), 0o600))

	out, err := execute(t, "config", "--config", path, "--max-size", "7", "--peer", "127.0.0.1:1", "--peer", "127.0.0.1:2", "--topic", "flag-topic-1")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 7, cfg.Cache.MaxSize)
	assert.Equal(t, "from-file", cfg.Node.Name)
	assert.Equal(t, []string{"127.0.0.1:1", "127.0.0.1:2"}, cfg.Replication.Peers)
	assert.Equal(t, "flag-topic-1", cfg.Replication.Topic)
}

func TestConfigCmd_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "config", "--topic", "short", "--listen", ":0")
	require.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "lrupeer dev\n", out)
}
