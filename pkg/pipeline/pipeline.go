// Package pipeline declares the built-in steps of a Python project build: provisioning the virtual
// environment, syncing it with the lock file, running the tests and packaging a source
// distribution.
package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"

	"github.com/lovelysystems/pybuild/pkg/buildsys"
	"github.com/lovelysystems/pybuild/pkg/config"
	"github.com/lovelysystems/pybuild/pkg/pyenv"
)

// ToolingPackages are installed by the provision step itself and are therefore never part of the
// lock file.
var ToolingPackages = []string{"click", "first"}

// StampClearer is implemented by stamps.Store.
type StampClearer interface {
	Clear() error
}

// Pipeline builds the task list and the Go actions for one project configuration.
type Pipeline struct {
	cfg *config.Config

	// Stderr receives the error output of commands run by actions (version command, pip freeze).
	Stderr io.Writer
	// ShowProgress displays a progress bar while the archive checksum is computed.
	ShowProgress bool
	// Stamps is cleared by the clean task. May be nil.
	Stamps StampClearer
}

// New returns a pipeline for cfg. cfg.Project should be absolute.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		Stderr: os.Stderr,
	}
}

func binDir() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

// tool returns the path of an executable inside the virtual environment relative to the project.
func (p *Pipeline) tool(name string) string {
	return filepath.ToSlash(filepath.Join(p.cfg.EnvDir, binDir(), name))
}

func (p *Pipeline) venvEnv() map[string]string {
	return map[string]string{
		"VIRTUAL_ENV": p.cfg.Path(p.cfg.EnvDir),
	}
}

func alias(name, target string) *buildsys.Task {
	return &buildsys.Task{
		Short:  name,
		Desc:   "Alias for " + target,
		Deps:   []string{target},
		Hidden: true,
		Always: true,
		Env:    map[string]string{},
	}
}

// Tasks returns the built-in steps. Task scripts may replace any of them by name.
func (p *Pipeline) Tasks() buildsys.TaskList {
	cfg := p.cfg
	pip := p.tool("pip")
	python := p.tool("python")

	testArgs := append([]string{p.tool("pytest"), cfg.Tests.Dir}, cfg.Tests.Args...)

	list := buildsys.TaskList{
		"lock": {
			Short:  "lock",
			Desc:   "Validates the lock file",
			Hidden: true,
			Always: true,
			Env:    map[string]string{},
			Cmds:   []buildsys.TaskCmd{buildsys.Action("check-lockfile", cfg.Requirements)},
		},
		"provision": {
			Short:   "provision",
			Desc:    "Creates a clean virtual environment in " + cfg.EnvDir + " with pinned installer tools",
			Env:     map[string]string{},
			Outputs: []string{cfg.EnvDir},
			Cmds: []buildsys.TaskCmd{
				buildsys.Command(cfg.Python, "-m", "venv", "--clear", cfg.EnvDir),
				buildsys.Command(pip, "install", "--upgrade", "pip=="+cfg.Pip.Version),
				buildsys.Command(pip, "install", "pip-tools=="+cfg.Pip.PipToolsVersion),
			},
		},
		"sync": {
			Short:  "sync",
			Desc:   "Installs exactly the locked dependencies and the project itself",
			Deps:   []string{"lock", "provision"},
			Env:    p.venvEnv(),
			Always: true,
			Cmds: []buildsys.TaskCmd{
				buildsys.Command(p.tool("pip-sync"), cfg.Requirements),
				buildsys.Command(pip, "install", "-e", "."),
			},
		},
		"test": {
			Short:  "test",
			Desc:   "Runs the test suite with pytest",
			Deps:   []string{"sync"},
			Env:    p.venvEnv(),
			Always: true,
			Cmds:   []buildsys.TaskCmd{buildsys.Command(testArgs...)},
		},
		"check": {
			Short:  "check",
			Desc:   "Verifies that the environment matches the lock file",
			Deps:   []string{"sync"},
			Env:    p.venvEnv(),
			Always: true,
			Cmds:   []buildsys.TaskCmd{buildsys.Action("check-env")},
		},
		"version": {
			Short:   "version",
			Desc:    "Writes the project version to " + cfg.Version.File,
			Env:     map[string]string{},
			Always:  true,
			Outputs: []string{cfg.Version.File},
			Cmds:    []buildsys.TaskCmd{buildsys.Action("write-version", cfg.Version.File)},
		},
		"package": {
			Short:   "package",
			Desc:    "Builds a source distribution in " + cfg.Dist.Dir,
			Deps:    []string{"version", "sync"},
			Env:     p.venvEnv(),
			Always:  true,
			Outputs: []string{cfg.Dist.Dir},
			Cmds: []buildsys.TaskCmd{
				buildsys.Action("clean-dir", cfg.Dist.Dir),
				buildsys.Command(python, "setup.py", "sdist", "--dist-dir", cfg.Dist.Dir),
				buildsys.Action("verify-dist", cfg.Dist.Dir, cfg.Version.File),
			},
		},
		"clean": {
			Short:  "clean",
			Desc:   "Removes the virtual environment, the dist directory and all stamps",
			Env:    map[string]string{},
			Always: true,
			Cmds: []buildsys.TaskCmd{
				buildsys.Command("rm", "-rf", cfg.EnvDir, cfg.Dist.Dir),
				buildsys.Action("clear-stamps"),
			},
		},
	}

	for name, target := range map[string]string{
		"venv":    "provision",
		"testenv": "sync",
		"pytest":  "test",
		"sdist":   "package",
	} {
		list[name] = alias(name, target)
	}

	return list
}

// Actions returns the Go implementations referenced by Tasks.
func (p *Pipeline) Actions() map[string]buildsys.ActionFunc {
	return map[string]buildsys.ActionFunc{
		"check-lockfile": p.checkLockFile,
		"check-env":      p.checkEnv,
		"write-version":  p.writeVersion,
		"clean-dir":      cleanDir,
		"verify-dist":    p.verifyDist,
		"clear-stamps":   p.clearStamps,
	}
}

func resolveArg(task *buildsys.Task, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(task.Base, path)
}

func requireArgs(args []string, count int) error {
	if len(args) != count {
		return eris.Errorf("expected %d arguments but got %d", count, len(args))
	}
	return nil
}

func (p *Pipeline) checkLockFile(ctx context.Context, task *buildsys.Task, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}

	reqs, err := pyenv.ReadLockFile(resolveArg(task, args[0]))
	if err != nil {
		return err
	}

	buildsys.Log(ctx).Debug().
		Str("task", task.Short).
		Msgf("%s pins %d packages", args[0], len(reqs))
	return nil
}

func (p *Pipeline) checkEnv(ctx context.Context, task *buildsys.Task, args []string) error {
	locked, err := pyenv.ReadLockFile(resolveArg(task, p.cfg.Requirements))
	if err != nil {
		return err
	}

	output, err := buildsys.Output(ctx, task.Base, buildsys.Command(p.tool("pip"), "freeze").String(), p.Stderr)
	if err != nil {
		return eris.Wrap(err, "failed to list installed packages")
	}

	installed, err := pyenv.ParseFreeze(output)
	if err != nil {
		return err
	}

	ignore := append(append([]string{}, pyenv.SyncIgnored...), ToolingPackages...)
	mismatch := pyenv.CompareInstalled(locked, installed, ignore)
	if !mismatch.Empty() {
		return mismatch
	}

	buildsys.Log(ctx).Info().
		Str("task", task.Short).
		Msgf("environment matches %s (%d packages)", p.cfg.Requirements, len(locked))
	return nil
}

func (p *Pipeline) writeVersion(ctx context.Context, task *buildsys.Task, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}

	run := func(ctx context.Context, script string) (string, error) {
		return buildsys.Output(ctx, task.Base, script, p.Stderr)
	}
	version, err := pyenv.ResolveVersion(ctx, p.cfg.Version.Value, p.cfg.Version.Command, run)
	if err != nil {
		return err
	}

	err = pyenv.WriteVersionFile(resolveArg(task, args[0]), version)
	if err != nil {
		return err
	}

	buildsys.Log(ctx).Info().
		Str("task", task.Short).
		Msgf("version %s", version)
	return nil
}

func cleanDir(ctx context.Context, task *buildsys.Task, args []string) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}

	dir := resolveArg(task, args[0])
	if err := buildsys.Remove("", []string{dir}, true, true); err != nil {
		return err
	}

	return buildsys.MakeDir("", []string{dir}, true)
}

// verifyDist makes sure the dist directory contains exactly one archive and that the archive
// carries the version we wrote.
func (p *Pipeline) verifyDist(ctx context.Context, task *buildsys.Task, args []string) error {
	if err := requireArgs(args, 2); err != nil {
		return err
	}

	dir := resolveArg(task, args[0])
	archives, others, err := pyenv.ListDist(dir)
	if err != nil {
		return err
	}

	switch len(archives) {
	case 0:
		return eris.Errorf("no source distribution found in %s", args[0])
	case 1:
	default:
		return eris.Errorf("expected one source distribution in %s but found %v", args[0], archives)
	}

	if len(others) > 0 {
		return eris.Errorf("unexpected files in %s: %v", args[0], others)
	}

	archive := filepath.Join(dir, archives[0])
	info, err := pyenv.ReadPkgInfo(archive)
	if err != nil {
		return err
	}

	version, err := pyenv.ReadVersionFile(resolveArg(task, args[1]))
	if err != nil {
		return err
	}

	if info.Version != version {
		return eris.Errorf("%s has version %s but %s contains %s", archives[0], info.Version, args[1], version)
	}

	logger := buildsys.Log(ctx)

	if p.cfg.Dist.Checksum {
		digest, err := pyenv.WriteChecksum(archive, p.ShowProgress)
		if err != nil {
			return err
		}

		logger.Debug().
			Str("task", task.Short).
			Msgf("sha256 %s", digest)
	}

	logger.Info().
		Str("task", task.Short).
		Msgf("built %s (%s %s)", filepath.Join(args[0], archives[0]), info.Name, info.Version)
	return nil
}

func (p *Pipeline) clearStamps(ctx context.Context, task *buildsys.Task, args []string) error {
	if p.Stamps == nil {
		return nil
	}

	if err := p.Stamps.Clear(); err != nil {
		return eris.Wrap(err, "failed to clear stamps")
	}

	buildsys.Log(ctx).Debug().Str("task", task.Short).Msg("cleared all stamps")
	return nil
}
