package pyenv

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// OutputFunc runs a shell command and returns its stdout.
type OutputFunc func(ctx context.Context, script string) (string, error)

// NormalizeVersion trims whitespace and, for valid semantic versions, drops the leading "v" that
// git tags usually carry. Anything else is returned unchanged.
func NormalizeVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	version, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return raw
	}

	return version.String()
}

// ResolveVersion returns override if it's set and otherwise runs command to determine the project
// version.
func ResolveVersion(ctx context.Context, override, command string, run OutputFunc) (string, error) {
	raw := override
	if raw == "" {
		if command == "" {
			return "", eris.New("neither a version nor a version command is configured")
		}

		output, err := run(ctx, command)
		if err != nil {
			return "", eris.Wrapf(err, "failed to run version command %s", command)
		}
		raw = output
	}

	version := NormalizeVersion(raw)
	if version == "" {
		return "", eris.Errorf("version command %s returned nothing", command)
	}

	if strings.ContainsAny(version, "\r\n") {
		return "", eris.Errorf("resolved version spans multiple lines: %q", version)
	}

	return version, nil
}

// WriteVersionFile replaces path with exactly version (no trailing newline).
func WriteVersionFile(path, version string) error {
	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	err := os.WriteFile(tmpPath, []byte(version), 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", tmpPath)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to replace %s", path)
	}

	return nil
}

// ReadVersionFile returns the content of a version file written by WriteVersionFile.
func ReadVersionFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "failed to read %s", path)
	}

	return string(content), nil
}
