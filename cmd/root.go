package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lovelysystems/pybuild/pkg/buildsys"
	"github.com/lovelysystems/pybuild/pkg/console"
)

// loggedError marks errors that were already reported through the logger.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string {
	return e.err.Error()
}

func (e *loggedError) Unwrap() error {
	return e.err
}

var rootCmd = &cobra.Command{
	Use:   "pybuild [task...] [option=value...]",
	Short: "Provisions, tests and packages Python projects",
	Long: `pybuild creates the project's virtual environment, syncs it with the lock file and runs the
requested tasks (test, check, package, ...). Without a task it lists the available tasks.

Additional tasks and options can be declared in a tasks.star file in the project root.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)

		s, err := openSession(cmd, options, true)
		if err != nil {
			return err
		}
		defer s.Close()

		if len(taskArgs) == 0 {
			return listTasks(cmd.OutOrStdout(), s)
		}

		for _, name := range taskArgs {
			if _, ok := s.tasks[name]; !ok {
				return eris.Errorf("Task %s not found", name)
			}
		}

		return s.runTasks(s.ctx, taskArgs)
	},
}

func listTasks(out io.Writer, s *session) error {
	fmt.Fprintln(out, "Available tasks:")
	maxNameLen := 0
	sortedNames := make([]string, 0)
	for _, task := range s.tasks {
		if task.Hidden {
			continue
		}

		nameLen := len(task.Short)
		if nameLen > maxNameLen {
			maxNameLen = nameLen
		}

		sortedNames = append(sortedNames, task.Short)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Fprintf(out, lineFmt, name+":", s.tasks[name].Desc)
	}

	options, err := s.listOptions()
	if err != nil {
		return err
	}

	if len(options) > 0 {
		optionNames := make([]string, 0, len(options))
		for name := range options {
			optionNames = append(optionNames, name)
		}
		sort.Strings(optionNames)

		fmt.Fprintln(out, "\nOptions:")
		for _, name := range optionNames {
			opt := options[name]
			fmt.Fprintf(out, " * %s=%s\n     %s\n", name, opt.Default(), opt.Help)
		}
	}

	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("project", "", "project root (defaults to the closest directory containing pybuild.toml, tasks.star, setup.py or requirements.txt)")
	flags.String("config", "", "config file (defaults to pybuild.toml in the project root)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "log JSON lines instead of console messages")

	addRunFlags(rootCmd)
}

// addRunFlags adds the flags that control task execution. They're not persistent since the rm
// helper has its own -f.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	cmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
}

// exitCode maps an error to the process exit code: the status of a failed subprocess or 1.
func exitCode(err error) int {
	if status, ok := buildsys.ExitStatus(err); ok && status != 0 {
		return status
	}
	return 1
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	console.ConfigureErrors()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var logged *loggedError
		if !errors.As(err, &logged) {
			console.PrintError(os.Stderr, eris.ToString(err, os.Getenv(console.DebugEnv) != ""))
		}

		os.Exit(exitCode(err))
	}
}
