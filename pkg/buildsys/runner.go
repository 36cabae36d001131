package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Options controls a single RunTask call.
type Options struct {
	// DryRun only logs the commands.
	DryRun bool
	// Force runs the requested task even if it's up to date. Dependencies are still checked.
	Force bool
	Check CheckMode
	// Stamps is required for CheckHash. Without it every task runs.
	Stamps  StampStore
	Actions map[string]ActionFunc
	Stdout  io.Writer
	Stderr  io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		opts        *Options
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) []string {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return envVars
}

// RunTask executes the given task after all of its dependencies
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, opts Options) error {
	return RunTasks(ctx, projectRoot, []string{task}, tasks, opts)
}

// RunTasks executes the given tasks in order and stops at the first failure. Every task,
// including shared dependencies, runs at most once per call.
func RunTasks(ctx context.Context, projectRoot string, names []string, tasks TaskList, opts Options) error {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return eris.Wrap(err, "failed to resolve project root")
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Check == "" {
		opts.Check = CheckHash
	}

	for _, name := range names {
		if _, found := tasks[name]; !found {
			return eris.Errorf("Task %s not found", name)
		}
	}

	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
		opts:        &opts,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	for _, name := range names {
		err := runTaskInternal(ctx, tasks[name], tasks, opts.Force, true)
		if err != nil {
			return err
		}
	}

	return nil
}

func taskBase(ctx context.Context, task *Task) string {
	if filepath.IsAbs(task.Base) {
		return task.Base
	}
	return filepath.Join(getRuntimeCtx(ctx).projectRoot, task.Base)
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	opts := rctx.opts
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			// this task has already been run
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := tasks[dep]
		if !ok {
			return eris.Errorf("Task %s not found", dep)
		}

		err := runTaskInternal(ctx, depTask, tasks, false, true)
		if err != nil {
			return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	base := taskBase(ctx, task)
	resolved := *task
	resolved.Base = base

	if canSkip && !force {
		skip, err := skipBecauseExists(ctx, &resolved)
		if err != nil {
			return err
		}

		if skip {
			log(ctx).Info().
				Str("task", task.Short).
				Msg("skipped because all skip files exist")

			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	var digest []byte
	if !task.Always {
		var upToDate bool
		var err error

		switch opts.Check {
		case CheckMtime:
			if !force {
				upToDate, err = upToDateByMtime(ctx, &resolved)
			}
		default:
			upToDate, digest, err = upToDateByHash(ctx, &resolved, opts.Stamps)
			if upToDate && !force {
				log(ctx).Info().
					Str("task", task.Short).
					Msg("nothing to do (inputs unchanged)")
			}
		}
		if err != nil {
			return err
		}

		if upToDate && !force {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	// With the skip and input/output checks done, we can finally start executing
	err := runCommands(ctx, task, &resolved, tasks, force)
	if err != nil {
		if digest != nil && opts.Stamps != nil && !opts.DryRun {
			if dErr := opts.Stamps.Delete(task.Short); dErr != nil {
				log(ctx).Warn().Err(dErr).Str("task", task.Short).Msg("failed to clear stamp")
			}
		}
		return err
	}

	if digest != nil && opts.Stamps != nil && !opts.DryRun && len(task.Outputs) > 0 {
		err = opts.Stamps.Put(task.Short, digest)
		if err != nil {
			return eris.Wrapf(err, "failed to store stamp for %s", task.Short)
		}
	}

	if task.Short != "" {
		rctx.runTasks[task.Short] = true
	}
	return nil
}

func runCommands(ctx context.Context, task, resolved *Task, tasks TaskList, force bool) error {
	opts := getRuntimeCtx(ctx).opts
	runner, err := newShell(resolved.Base, getTaskEnv(task), opts.Stdout, opts.Stderr)
	if err != nil {
		return err
	}

	parser := syntax.NewParser()
	for idx, item := range task.Cmds {
		switch item := item.(type) {
		case TaskCmdScript:
			if item.TaskName == "" {
				item.TaskName = task.Short
				item.Index = idx
			}

			stmts, err := item.ToShellStmts(parser)
			if err != nil {
				return eris.Wrap(err, "failed to parse shell script")
			}

			for _, stm := range stmts {
				printed := printNode(stm)
				log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(printed)

				if opts.DryRun {
					continue
				}

				err = runner.Run(ctx, stm)
				if err != nil {
					if status, ok := interp.IsExitStatus(err); ok {
						return &ExitError{Task: task.Short, Command: printed, Status: int(status)}
					}
					return eris.Wrapf(err, "%s: failed to run %s", task.Short, printed)
				}

				if runner.Exited() {
					return nil
				}
			}
		case TaskCmdAction:
			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(item.String())

			if opts.DryRun {
				continue
			}

			action, ok := opts.Actions[item.Name]
			if !ok {
				return eris.Errorf("%s: unknown action %s", task.Short, item.Name)
			}

			err = action(ctx, resolved, item.Args)
			if err != nil {
				return eris.Wrapf(err, "%s: %s failed", task.Short, item.String())
			}
		case TaskCmdTaskRef:
			if item.Task == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = runTaskInternal(ctx, item.Task, tasks, force, true)
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unexpected task command %+v", item)
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
