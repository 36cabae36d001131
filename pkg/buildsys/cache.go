package buildsys

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"reflect"

	"github.com/rotisserie/eris"
	"github.com/zeebo/blake3"
)

func init() {
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
	gob.Register(TaskCmdAction{})
}

type scriptCache struct {
	Digest  []byte
	Options map[string]string
	Tasks   TaskList
}

// ScriptDigest hashes the content of a task script.
func ScriptDigest(filename string) ([]byte, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	sum := blake3.Sum256(content)
	return sum[:], nil
}

// WriteCache stores the tasks parsed from a script with the given digest and options.
func WriteCache(file string, digest []byte, options map[string]string, list TaskList) error {
	err := os.MkdirAll(filepath.Dir(file), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(file))
	}

	handle, err := os.Create(file)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", file)
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(scriptCache{
		Digest:  digest,
		Options: options,
		Tasks:   list,
	})
	if err != nil {
		return eris.Wrap(err, "failed to encode task cache")
	}

	return handle.Close()
}

// ReadCache returns the cached tasks if they were parsed from a script with the same digest and the
// same options. A missing or stale cache is not an error; ok is false in that case.
func ReadCache(file string, digest []byte, options map[string]string) (list TaskList, ok bool, err error) {
	handle, err := os.Open(file)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "failed to open %s", file)
	}
	defer handle.Close()

	var cache scriptCache
	err = gob.NewDecoder(handle).Decode(&cache)
	if err != nil {
		return nil, false, eris.Wrapf(err, "failed to decode %s", file)
	}

	if !bytes.Equal(cache.Digest, digest) {
		return nil, false, nil
	}

	// gob decodes empty maps as nil
	if len(cache.Options) != 0 || len(options) != 0 {
		if !reflect.DeepEqual(cache.Options, options) {
			return nil, false, nil
		}
	}

	return cache.Tasks, true, nil
}
