package pyenv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Requirement is a single pinned package.
type Requirement struct {
	Name    string
	Extras  string
	Version string
	Marker  string
	Line    int
}

// Key returns the normalized package name.
func (r Requirement) Key() string {
	return NormalizeName(r.Name)
}

func (r Requirement) String() string {
	return r.Name + r.Extras + "==" + r.Version
}

// LockFileError reports a line that can't be part of a fully pinned lock file.
type LockFileError struct {
	File   string
	Line   int
	Text   string
	Reason string
}

var _ error = (*LockFileError)(nil)

func (e *LockFileError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Reason, e.Text)
}

var (
	nameSeparators = regexp.MustCompile(`[-_.]+`)
	pinnedSpec     = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(\[[^\]]*\])?\s*==\s*([A-Za-z0-9][A-Za-z0-9.+!_-]*)$`)
)

// NormalizeName returns the PEP 503 form of a package name.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// options that only influence where packages come from
var globalOptions = map[string]bool{
	"-i":                true,
	"--index-url":       true,
	"--extra-index-url": true,
	"--trusted-host":    true,
	"-f":                true,
	"--find-links":      true,
	"--no-index":        true,
}

func stripComment(line string) string {
	if strings.HasPrefix(line, "#") {
		return ""
	}

	for idx := 1; idx < len(line); idx++ {
		if line[idx] == '#' && (line[idx-1] == ' ' || line[idx-1] == '\t') {
			return line[:idx]
		}
	}
	return line
}

func optionName(token string) string {
	if pos := strings.Index(token, "="); pos > -1 {
		return token[:pos]
	}
	return token
}

// parseRequirementLine parses a logical line (continuations already joined, comment removed).
// A nil requirement without error means that the line only carried options.
func parseRequirementLine(line string) (*Requirement, string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ""
	}

	if strings.HasPrefix(fields[0], "-") {
		if globalOptions[optionName(fields[0])] {
			return nil, ""
		}
		return nil, fmt.Sprintf("option %s is not allowed in a lock file", optionName(fields[0]))
	}

	// everything after the first "--" option belongs to per-requirement options
	spec := line
	if pos := strings.Index(line, " --"); pos > -1 {
		for _, token := range strings.Fields(line[pos:]) {
			if !strings.HasPrefix(token, "--") {
				continue
			}
			if optionName(token) != "--hash" {
				return nil, fmt.Sprintf("option %s is not allowed after a requirement", optionName(token))
			}
		}
		spec = line[:pos]
	}

	req := new(Requirement)
	if pos := strings.Index(spec, ";"); pos > -1 {
		req.Marker = strings.TrimSpace(spec[pos+1:])
		spec = spec[:pos]
	}

	match := pinnedSpec.FindStringSubmatch(strings.TrimSpace(spec))
	if match == nil {
		return nil, "requirement is not pinned to an exact version"
	}

	req.Name = match[1]
	req.Extras = match[2]
	req.Version = match[3]
	return req, ""
}

// ParseLockFile reads a pip requirements file in which every requirement is pinned with ==.
// name is only used for error messages.
func ParseLockFile(r io.Reader, name string) ([]Requirement, error) {
	result := make([]Requirement, 0)
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	logical := strings.Builder{}
	startLine := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if logical.Len() == 0 {
			startLine = lineNo
		}

		if strings.HasSuffix(raw, `\`) {
			logical.WriteString(strings.TrimSuffix(raw, `\`))
			logical.WriteString(" ")
			continue
		}

		logical.WriteString(raw)
		line := strings.TrimSpace(stripComment(logical.String()))
		logical.Reset()

		req, problem := parseRequirementLine(line)
		if problem != "" {
			return nil, &LockFileError{File: name, Line: startLine, Text: line, Reason: problem}
		}
		if req == nil {
			continue
		}

		if prev, ok := seen[req.Key()]; ok {
			return nil, &LockFileError{
				File:   name,
				Line:   startLine,
				Text:   line,
				Reason: fmt.Sprintf("%s is already pinned on line %d", req.Name, prev),
			}
		}

		req.Line = startLine
		seen[req.Key()] = startLine
		result = append(result, *req)
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", name)
	}

	if logical.Len() > 0 {
		return nil, &LockFileError{File: name, Line: startLine, Text: logical.String(), Reason: "file ends with a line continuation"}
	}

	return result, nil
}

// ReadLockFile opens and parses the lock file at path.
func ReadLockFile(path string) ([]Requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open lock file %s", path)
	}
	defer f.Close()

	return ParseLockFile(f, path)
}
