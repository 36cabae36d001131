package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lovelysystems/pybuild/pkg/buildsys"
	"github.com/lovelysystems/pybuild/pkg/config"
	"github.com/lovelysystems/pybuild/pkg/console"
	"github.com/lovelysystems/pybuild/pkg/pipeline"
	"github.com/lovelysystems/pybuild/pkg/stamps"
)

// projectMarkers identify the root of a Python project.
var projectMarkers = []string{config.FileName, buildsys.ScriptName, "setup.py", "requirements.txt"}

// session holds everything a command needs to run tasks for one project.
type session struct {
	ctx           context.Context
	cfg           *config.Config
	logger        *zerolog.Logger
	stamps        *stamps.Store
	pipeline      *pipeline.Pipeline
	tasks         buildsys.TaskList
	scriptOptions map[string]buildsys.ScriptOption
	dryRun        bool
	force         bool
}

// splitArgs separates task names from name=value options.
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// findProjectRoot walks up from start until it finds a directory containing one of projectMarkers.
func findProjectRoot(start string) (string, error) {
	path := start
	for {
		for _, marker := range projectMarkers {
			_, err := os.Stat(filepath.Join(path, marker))
			if err == nil {
				return path, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrapf(err, "Failed to check %s", filepath.Join(path, marker))
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("No project found in %s or any parent directory", start)
		}

		path = parent
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(console.NewWriter(os.Stderr, os.Getenv("NO_COLOR") != ""))
	}

	return logger.Level(cfg.LogLevel())
}

// loadConfig resolves the project root and reads its configuration. Flags override values from
// the config file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	projectFlag, err := flags.GetString("project")
	if err != nil {
		return nil, err
	}

	configFlag, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	root := projectFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "Failed to retrieve the current working directory")
		}

		root, err = findProjectRoot(wd)
		if err != nil {
			return nil, err
		}
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to resolve project root")
	}

	if configFlag == "" {
		configFlag = filepath.Join(root, config.FileName)
	} else if _, err := os.Stat(configFlag); err != nil {
		return nil, eris.Wrapf(err, "Failed to read config %s", configFlag)
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}

	switch {
	case projectFlag != "":
		cfg.Project = root
	case !filepath.IsAbs(cfg.Project):
		cfg.Project = filepath.Join(root, cfg.Project)
	}

	if flags.Changed("log-level") {
		cfg.Log.Level, err = flags.GetString("log-level")
		if err != nil {
			return nil, err
		}
	}

	if flags.Changed("json") {
		cfg.Log.JSON, err = flags.GetBool("json")
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// openSession loads the config, opens the stamp database and, if loadTasks is set, collects the
// built-in steps and the tasks declared in tasks.star.
func openSession(cmd *cobra.Command, options map[string]string, loadTasks bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)
	s := &session{
		ctx:    buildsys.WithLogger(cmd.Context(), &logger),
		cfg:    cfg,
		logger: &logger,
	}

	if cmd.Flags().Lookup("dry") != nil {
		s.dryRun, err = cmd.Flags().GetBool("dry")
		if err != nil {
			return nil, err
		}

		s.force, err = cmd.Flags().GetBool("force")
		if err != nil {
			return nil, err
		}
	}

	if !loadTasks {
		return s, nil
	}

	s.stamps, err = stamps.Open(cfg.Path(cfg.State.Dir, "state.db"))
	if err != nil {
		return nil, err
	}

	s.pipeline = pipeline.New(cfg)
	s.pipeline.Stamps = s.stamps
	s.pipeline.ShowProgress = !cfg.Log.JSON

	s.tasks = s.pipeline.Tasks()
	err = s.loadScript(options)
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// loadScript merges the tasks of the project's tasks.star (if there is one) into the session's
// task list. Parsed scripts are cached in the state directory.
func (s *session) loadScript(options map[string]string) error {
	script := s.cfg.Path(buildsys.ScriptName)
	if _, err := os.Stat(script); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			if len(options) > 0 {
				return eris.Errorf("Options were passed but %s doesn't exist", buildsys.ScriptName)
			}
			return nil
		}
		return eris.Wrapf(err, "Failed to check %s", script)
	}

	digest, err := buildsys.ScriptDigest(script)
	if err != nil {
		return err
	}

	cacheFile := s.cfg.Path(s.cfg.State.Dir, "tasks.cache")
	scriptTasks, ok, err := buildsys.ReadCache(cacheFile, digest, options)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring broken task cache")
	}

	if ok {
		s.logger.Debug().Msgf("Loaded tasks from %s", cacheFile)
	} else {
		scriptTasks, s.scriptOptions, err = buildsys.LoadScript(s.ctx, script, s.cfg.Project, options, true)
		if err != nil {
			return eris.Wrapf(err, "Failed to parse %s", buildsys.ScriptName)
		}

		err = buildsys.WriteCache(cacheFile, digest, options, scriptTasks)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write task cache")
		}
	}

	s.tasks.Merge(scriptTasks)
	return nil
}

// listOptions returns the options declared by tasks.star, parsing the script if the tasks came
// from the cache.
func (s *session) listOptions() (map[string]buildsys.ScriptOption, error) {
	if s.scriptOptions != nil {
		return s.scriptOptions, nil
	}

	script := s.cfg.Path(buildsys.ScriptName)
	if _, err := os.Stat(script); err != nil {
		return nil, nil
	}

	_, options, err := buildsys.LoadScript(s.ctx, script, s.cfg.Project, map[string]string{}, false)
	return options, err
}

func (s *session) runOptions() buildsys.Options {
	return buildsys.Options{
		DryRun:  s.dryRun,
		Force:   s.force,
		Check:   buildsys.CheckMode(s.cfg.State.Check),
		Stamps:  s.stamps,
		Actions: s.pipeline.Actions(),
	}
}

// runTasks runs the tasks in order and stops at the first failure. Shared dependencies only run
// once.
func (s *session) runTasks(ctx context.Context, names []string) error {
	err := buildsys.RunTasks(ctx, s.cfg.Project, names, s.tasks, s.runOptions())
	if err != nil {
		s.logger.Error().Err(err).Strs("tasks", names).Msg("Build failed")
		return &loggedError{err: err}
	}

	return nil
}

// Close releases the stamp database.
func (s *session) Close() {
	if s.stamps != nil {
		if err := s.stamps.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close the stamp database")
		}
		s.stamps = nil
	}
}
