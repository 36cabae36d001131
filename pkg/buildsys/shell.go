package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			hc := interp.HandlerCtx(ctx)
			err := runPosixHelper(hc.Dir, args[0], args[1:])
			if err != nil {
				fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], eris.ToString(err, false))
				return interp.NewExitStatus(1)
			}
			return nil
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func newShell(dir string, env []string, stdout, stderr io.Writer) (*interp.Runner, error) {
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to initialize runner")
	}

	return runner, nil
}

// Output runs script inside dir and returns everything it printed to stdout. stderr is passed
// through to the given writer (which may be nil).
func Output(ctx context.Context, dir, script string, stderr io.Writer) (string, error) {
	stmts, err := TaskCmdScript{TaskName: "output", Content: script}.ToShellStmts(syntax.NewParser())
	if err != nil {
		return "", err
	}

	if stderr == nil {
		stderr = io.Discard
	}

	buffer := strings.Builder{}
	runner, err := newShell(dir, os.Environ(), &buffer, stderr)
	if err != nil {
		return "", err
	}

	for _, stmt := range stmts {
		err = runner.Run(ctx, stmt)
		if err != nil {
			if status, ok := interp.IsExitStatus(err); ok {
				return buffer.String(), &ExitError{Task: "output", Command: script, Status: int(status)}
			}
			return buffer.String(), eris.Wrapf(err, "failed to run %s", script)
		}

		if runner.Exited() {
			break
		}
	}

	return buffer.String(), nil
}

// Command builds a shell command from an argv list. Every argument is quoted as needed.
func Command(args ...string) TaskCmd {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(args))
	for idx, arg := range args {
		cmd.Args[idx] = quoteWord(arg)
	}

	return TaskCmdScript{Content: printNode(cmd)}
}

// Action builds a reference to the Go action registered as name.
func Action(name string, args ...string) TaskCmd {
	return TaskCmdAction{Name: name, Args: args}
}

func printNode(node syntax.Node) string {
	strBuffer := strings.Builder{}
	// writing to a strings.Builder can't fail
	_ = syntax.NewPrinter(syntax.Minify(true)).Print(&strBuffer, node)
	return strBuffer.String()
}

func isSafeShellChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}

	return strings.ContainsRune("_-./=:,+@%^", r)
}

func quoteWord(value string) *syntax.Word {
	word := new(syntax.Word)
	if value != "" && strings.IndexFunc(value, func(r rune) bool { return !isSafeShellChar(r) }) == -1 {
		word.Parts = []syntax.WordPart{&syntax.Lit{Value: value}}
		return word
	}

	// single quotes can't be escaped inside single quotes so we close the quote, add an escaped
	// quote and reopen it
	chunks := strings.Split(value, "'")
	for idx, chunk := range chunks {
		if chunk != "" || len(chunks) == 1 {
			word.Parts = append(word.Parts, &syntax.SglQuoted{Value: chunk})
		}

		if idx < len(chunks)-1 {
			word.Parts = append(word.Parts, &syntax.Lit{Value: `\'`})
		}
	}

	return word
}
