package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lovelysystems/pybuild/pkg/pyenv"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock file helpers",
}

var lockCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Verifies that every requirement in the lock file is pinned to an exact version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, nil, false)
		if err != nil {
			return err
		}

		path := s.cfg.Path(s.cfg.Requirements)
		if len(args) > 0 {
			path = args[0]
		}

		reqs, err := pyenv.ReadLockFile(path)
		if err != nil {
			return err
		}

		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return err
		}

		if list {
			out := cmd.OutOrStdout()
			for _, req := range reqs {
				fmt.Fprintln(out, req.String())
			}
		}

		s.logger.Info().Msgf("%s pins %d packages", path, len(reqs))
		return nil
	},
}

func init() {
	lockCheckCmd.Flags().BoolP("list", "l", false, "print the pinned requirements")

	lockCmd.AddCommand(lockCheckCmd)
	rootCmd.AddCommand(lockCmd)
}
