package config

import (
	"os"
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/lovelysystems/pybuild/pkg/buildsys"
)

// FileName is the config file looked up in the project root.
const FileName = "pybuild.toml"

// Config describes all configuration options. Relative paths are relative to the project root.
type Config struct {
	Project      string `default:"." toml:"project" usage:"Project root (contains setup.py and the lock file)"`
	EnvDir       string `default:"v" toml:"env_dir" usage:"Directory of the virtual environment"`
	Python       string `default:"python3" toml:"python" usage:"Interpreter used to create the virtual environment"`
	Requirements string `default:"requirements.txt" toml:"requirements" usage:"Lock file synced into the environment"`
	Pip          struct {
		Version         string `default:"9.0.1" toml:"version" usage:"pip version installed into the environment"`
		PipToolsVersion string `default:"1.10.1" toml:"pip_tools_version" usage:"pip-tools version installed into the environment"`
	} `toml:"pip"`
	Tests struct {
		Dir  string   `default:"tests" toml:"dir" usage:"Directory passed to pytest"`
		Args []string `toml:"args" usage:"Additional pytest arguments"`
	} `toml:"tests"`
	Version struct {
		File    string `default:"VERSION.txt" toml:"file" usage:"File the resolved version is written to"`
		Command string `default:"git describe --tags --always" toml:"command" usage:"Shell command that prints the project version"`
		Value   string `toml:"value" usage:"Fixed version; skips the version command"`
	} `toml:"version"`
	Dist struct {
		Dir      string `default:"dist" toml:"dir" usage:"Output directory for source distributions"`
		Checksum bool   `default:"true" toml:"checksum" usage:"Write a .sha256 file next to the archive"`
	} `toml:"dist"`
	State struct {
		Dir   string `default:".pybuild" toml:"dir" usage:"Directory for stamps and caches"`
		Check string `default:"hash" toml:"check" usage:"Up-to-date check (hash or mtime)"`
	} `toml:"state"`
	Log struct {
		Level string `default:"info" toml:"level"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for it. files are only used
// if they exist.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PYBUILD",
		SkipFlags: true,
		Files:     existing,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the defaults, the given config files and the environment.
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	switch buildsys.CheckMode(cfg.State.Check) {
	case buildsys.CheckHash, buildsys.CheckMtime:
	default:
		return eris.Errorf(`Invalid value for state.check: %s (must be hash or mtime)`, cfg.State.Check)
	}

	required := map[string]string{
		"env_dir":               cfg.EnvDir,
		"python":                cfg.Python,
		"requirements":          cfg.Requirements,
		"pip.version":           cfg.Pip.Version,
		"pip.pip_tools_version": cfg.Pip.PipToolsVersion,
		"tests.dir":             cfg.Tests.Dir,
		"version.file":          cfg.Version.File,
		"dist.dir":              cfg.Dist.Dir,
		"state.dir":             cfg.State.Dir,
	}
	for name, value := range required {
		if value == "" {
			return eris.Errorf(`%s must not be empty`, name)
		}
	}

	for name, value := range map[string]string{"env_dir": cfg.EnvDir, "dist.dir": cfg.Dist.Dir} {
		if filepath.Clean(value) == "." || filepath.IsAbs(value) {
			return eris.Errorf(`%s must be a sub directory of the project (got %s)`, name, value)
		}
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// Path resolves a configured path relative to the project root.
func (cfg *Config) Path(elem ...string) string {
	if len(elem) > 0 && filepath.IsAbs(elem[0]) {
		return filepath.Join(elem...)
	}
	return filepath.Join(append([]string{cfg.Project}, elem...)...)
}
