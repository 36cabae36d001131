package buildsys

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

// Cross-platform versions of the few POSIX tools our task commands rely on. The shell runtime
// routes rm, mkdir and mv here so they behave the same on Windows.

func resolveIn(dir, item string) string {
	if dir == "" || filepath.IsAbs(item) {
		return item
	}
	return filepath.Join(dir, item)
}

// Remove deletes items. Directories are only removed if recursive is set and missing items are only
// ignored if force is set.
func Remove(dir string, items []string, recursive, force bool) error {
	for _, item := range items {
		info, err := os.Stat(resolveIn(dir, item))
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(resolveIn(dir, item))
		if err != nil && (!force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// MakeDir creates each item, including missing parents if parents is set.
func MakeDir(dir string, items []string, parents bool) error {
	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(resolveIn(dir, item), 0o770)
		} else {
			err = os.Mkdir(resolveIn(dir, item), 0o770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// Move moves all but the last argument into the last one. With exactly two arguments the last one
// may also be the new name of the first.
func Move(dir string, args []string) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := filepath.Clean(resolveIn(dir, args[len(args)-1]))
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err == nil {
		destIsDir = info.IsDir()
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}

	items := args[:len(args)-1]
	if len(items) > 1 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(resolveIn(dir, item), itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// runPosixHelper parses args like the named tool would and runs the portable implementation.
func runPosixHelper(dir, name string, args []string) error {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)

	switch name {
	case "rm":
		recursive := flags.BoolP("recursive", "r", false, "")
		force := flags.BoolP("force", "f", false, "")
		if err := flags.Parse(args); err != nil {
			return eris.Wrap(err, "rm")
		}
		return Remove(dir, flags.Args(), *recursive, *force)
	case "mkdir":
		parents := flags.BoolP("parents", "p", false, "")
		if err := flags.Parse(args); err != nil {
			return eris.Wrap(err, "mkdir")
		}
		return MakeDir(dir, flags.Args(), *parents)
	case "mv":
		if err := flags.Parse(args); err != nil {
			return eris.Wrap(err, "mv")
		}
		return Move(dir, flags.Args())
	}

	return eris.Errorf("unknown helper %s", name)
}
