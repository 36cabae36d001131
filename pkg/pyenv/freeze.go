package pyenv

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// SyncIgnored lists the packages pip-sync never installs or removes.
var SyncIgnored = []string{"-markerlib", "pip", "pip-tools", "pip-review", "pkg-resources", "setuptools", "wheel", "distribute"}

// ParseFreeze parses the output of pip freeze. Editable installs and direct references
// (name @ url) are skipped since they are not part of the lock file.
func ParseFreeze(output string) ([]Requirement, error) {
	result := make([]Requirement, 0)
	for idx, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-e") || strings.Contains(line, " @ ") {
			continue
		}

		req, problem := parseRequirementLine(line)
		if problem != "" {
			return nil, eris.Errorf("unexpected pip freeze output on line %d: %s (%s)", idx+1, line, problem)
		}
		if req != nil {
			req.Line = idx + 1
			result = append(result, *req)
		}
	}

	return result, nil
}

// VersionChange is a package that's installed in a different version than locked.
type VersionChange struct {
	Name      string
	Locked    string
	Installed string
}

// Mismatch lists every difference between a lock file and an environment.
type Mismatch struct {
	Missing    []Requirement
	Unexpected []Requirement
	Changed    []VersionChange
}

// Empty is true if the environment matches the lock file.
func (m *Mismatch) Empty() bool {
	return len(m.Missing) == 0 && len(m.Unexpected) == 0 && len(m.Changed) == 0
}

func (m *Mismatch) Error() string {
	parts := make([]string, 0, 3)
	if len(m.Missing) > 0 {
		names := make([]string, len(m.Missing))
		for idx, req := range m.Missing {
			names[idx] = req.String()
		}
		parts = append(parts, "missing: "+strings.Join(names, ", "))
	}

	if len(m.Unexpected) > 0 {
		names := make([]string, len(m.Unexpected))
		for idx, req := range m.Unexpected {
			names[idx] = req.String()
		}
		parts = append(parts, "not locked: "+strings.Join(names, ", "))
	}

	if len(m.Changed) > 0 {
		names := make([]string, len(m.Changed))
		for idx, change := range m.Changed {
			names[idx] = fmt.Sprintf("%s (locked %s, installed %s)", change.Name, change.Locked, change.Installed)
		}
		parts = append(parts, "wrong version: "+strings.Join(names, ", "))
	}

	return "environment does not match the lock file; " + strings.Join(parts, "; ")
}

// CompareInstalled checks that installed contains exactly the locked packages. Packages in
// ignore are skipped on both sides. Locked requirements with an environment marker may be absent
// since the marker might not apply to this interpreter.
func CompareInstalled(locked, installed []Requirement, ignore []string) *Mismatch {
	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[NormalizeName(name)] = true
	}

	installedByKey := make(map[string]Requirement, len(installed))
	for _, req := range installed {
		installedByKey[req.Key()] = req
	}

	result := &Mismatch{}
	lockedKeys := make(map[string]bool, len(locked))
	for _, req := range locked {
		key := req.Key()
		lockedKeys[key] = true
		if ignored[key] {
			continue
		}

		actual, ok := installedByKey[key]
		if !ok {
			if req.Marker == "" {
				result.Missing = append(result.Missing, req)
			}
			continue
		}

		if !strings.EqualFold(actual.Version, req.Version) {
			result.Changed = append(result.Changed, VersionChange{
				Name:      req.Name,
				Locked:    req.Version,
				Installed: actual.Version,
			})
		}
	}

	for _, req := range installed {
		key := req.Key()
		if !lockedKeys[key] && !ignored[key] {
			result.Unexpected = append(result.Unexpected, req)
		}
	}

	sort.Slice(result.Unexpected, func(i, j int) bool {
		return result.Unexpected[i].Key() < result.Unexpected[j].Key()
	})
	return result
}
