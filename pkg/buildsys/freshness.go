package buildsys

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/zeebo/blake3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// CheckMode selects how a task decides that its outputs are up to date.
type CheckMode string

const (
	// CheckHash compares a digest of the inputs and commands with the one recorded after the last
	// successful run.
	CheckHash CheckMode = "hash"
	// CheckMtime compares the newest input with the newest output.
	CheckMtime CheckMode = "mtime"
)

// StampStore persists the digest of the last successful run for each task.
type StampStore interface {
	Get(task string) ([]byte, error)
	Put(task string, digest []byte) error
	Delete(task string) error
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	parserCtx := &parserCtx{
		filepath:    "invalid",
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(parserCtx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, filepath.FromSlash(match))
			}
		}
	}
	return result, nil
}

func skipBecauseExists(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	return found > 0 && found == len(skipList), nil
}

func upToDateByMtime(ctx context.Context, task *Task) (bool, error) {
	var newestInput time.Time
	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		if err == nil {
			mt := info.ModTime()
			if mt.After(newestOutput) {
				newestOutput = mt
			}

			if mt.Before(oldestOutput) {
				oldestOutput = mt
			}
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if newestOutput.After(newestInput) {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", newestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func writeDigestField(hasher io.Writer, value string) {
	// length prefix every field so that "ab"+"c" and "a"+"bc" differ
	var prefix [8]byte
	size := uint64(len(value))
	for i := range prefix {
		prefix[i] = byte(size >> (8 * i))
	}
	hasher.Write(prefix[:])
	io.WriteString(hasher, value)
}

func hashFile(hasher io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	writeDigestField(hasher, info.Mode().Perm().String())
	_, err = io.Copy(hasher, f)
	return err
}

// taskDigest hashes everything that influences the result of a task: its commands, its
// environment overrides and the content of all inputs.
func taskDigest(ctx context.Context, task *Task) ([]byte, error) {
	hasher := blake3.New()
	writeDigestField(hasher, task.Short)
	writeDigestField(hasher, task.Base)

	for _, cmd := range task.Cmds {
		writeDigestField(hasher, cmd.String())
	}

	envNames := make([]string, 0, len(task.Env))
	for name := range task.Env {
		envNames = append(envNames, name)
	}
	sort.Strings(envNames)
	for _, name := range envNames {
		writeDigestField(hasher, name+"="+task.Env[name])
	}

	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve inputs")
	}
	sort.Strings(inputList)

	for _, item := range inputList {
		if _, err := os.Lstat(item); eris.Is(err, os.ErrNotExist) {
			// optional inputs may come and go; their absence is part of the digest
			writeDigestField(hasher, "!"+filepath.ToSlash(item))
			continue
		}

		err = filepath.WalkDir(item, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			writeDigestField(hasher, filepath.ToSlash(path))
			if d.Type().IsRegular() {
				return hashFile(hasher, path)
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to hash input %s", item)
		}
	}

	return hasher.Sum(nil), nil
}

func outputsExist(ctx context.Context, task *Task) (bool, error) {
	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	if len(outputList) == 0 {
		return false, nil
	}

	for _, item := range outputList {
		_, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}
	}

	return true, nil
}

// upToDateByHash returns the current digest along with the result so that the caller can store it
// once the task succeeded.
func upToDateByHash(ctx context.Context, task *Task, stamps StampStore) (bool, []byte, error) {
	digest, err := taskDigest(ctx, task)
	if err != nil {
		return false, nil, err
	}

	if stamps == nil {
		return false, digest, nil
	}

	exist, err := outputsExist(ctx, task)
	if err != nil || !exist {
		return false, digest, err
	}

	stored, err := stamps.Get(task.Short)
	if err != nil {
		return false, digest, eris.Wrapf(err, "failed to read stamp for %s", task.Short)
	}

	return stored != nil && bytes.Equal(stored, digest), digest, nil
}
