package cmd

import (
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lovelysystems/pybuild/pkg/buildsys"
)

// expandPatterns resolves glob patterns on Windows where the calling shell doesn't do it for us.
func expandPatterns(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

var mvCmd = &cobra.Command{
	Use:   "mv source... dest",
	Short: "Cross-platform implementation of the POSIX mv command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := expandPatterns(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		return buildsys.Move("", append(items, args[len(args)-1]))
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm path...",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		items, err := expandPatterns(args, force)
		if err != nil {
			return err
		}

		return buildsys.Remove("", items, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir dir...",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		return buildsys.MakeDir("", args, makeParents)
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
