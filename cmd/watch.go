package cmd

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lovelysystems/pybuild/pkg/config"
	"github.com/lovelysystems/pybuild/pkg/watch"
)

// watchExcludes lists the paths our own tasks write to. Changes below them must not trigger
// another run.
func watchExcludes(cfg *config.Config) []string {
	return []string{cfg.EnvDir, cfg.Dist.Dir, cfg.State.Dir, cfg.Version.File}
}

var watchCmd = &cobra.Command{
	Use:   "watch task... [option=value...]",
	Short: "Runs the given tasks again whenever a project file changes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)
		if len(taskArgs) == 0 {
			return eris.New("No task passed")
		}

		s, err := openSession(cmd, options, true)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, name := range taskArgs {
			if _, ok := s.tasks[name]; !ok {
				return eris.Errorf("Task %s not found", name)
			}
		}

		watcher, err := watch.New(s.cfg.Project, watchExcludes(s.cfg))
		if err != nil {
			return err
		}
		defer watcher.Close()

		run := func(ctx context.Context) {
			// failures are already logged; keep watching
			_ = s.runTasks(ctx, taskArgs)
			s.logger.Info().Msg("Waiting for changes...")
		}

		run(s.ctx)
		err = watcher.Run(s.ctx, func(ctx context.Context, changed []string) {
			s.logger.Info().Strs("files", changed).Msgf("%d files changed", len(changed))
			run(ctx)
		})
		if eris.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	addRunFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
