package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "v", cfg.EnvDir)
	assert.Equal(t, "python3", cfg.Python)
	assert.Equal(t, "requirements.txt", cfg.Requirements)
	assert.Equal(t, "9.0.1", cfg.Pip.Version)
	assert.Equal(t, "1.10.1", cfg.Pip.PipToolsVersion)
	assert.Equal(t, "tests", cfg.Tests.Dir)
	assert.Equal(t, "VERSION.txt", cfg.Version.File)
	assert.Equal(t, "dist", cfg.Dist.Dir)
	assert.True(t, cfg.Dist.Checksum)
	assert.Equal(t, "hash", cfg.State.Check)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
env_dir = "venv"

[pip]
version = "18.1"

[version]
value = "1.0.0"
`), 0o644))

	t.Setenv("PYBUILD_PYTHON", "python3.6")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "venv", cfg.EnvDir)
	assert.Equal(t, "18.1", cfg.Pip.Version)
	assert.Equal(t, "1.10.1", cfg.Pip.PipToolsVersion)
	assert.Equal(t, "1.0.0", cfg.Version.Value)
	assert.Equal(t, "python3.6", cfg.Python)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.State.Check = "always"
	assert.Error(t, cfg.Validate())

	cfg.State.Check = "mtime"
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg.Log.Level = "debug"
	cfg.Dist.Dir = "."
	assert.Error(t, cfg.Validate())

	cfg.Dist.Dir = "dist"
	cfg.Pip.Version = ""
	assert.Error(t, cfg.Validate())

	cfg.Pip.Version = "9.0.1"
	assert.NoError(t, cfg.Validate())
}

func TestPath(t *testing.T) {
	cfg := &Config{Project: "/src/project"}
	assert.Equal(t, filepath.Join("/src/project", "v", "bin"), cfg.Path("v", "bin"))
	assert.Equal(t, filepath.Join("/opt", "env"), cfg.Path("/opt", "env"))
}
