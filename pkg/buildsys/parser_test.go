package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
greeting = option("greeting", "hello", help = "what the hello task prints")

def configure():
    setenv("PIP_DISABLE_PIP_VERSION_CHECK", "1")

    prep = task(cmds = [("touch", "prepared")])

    task(
        "hello",
        desc = "Prints a greeting",
        inputs = ["setup.py"],
        outputs = ["out.txt"],
        cmds = ["echo %s > out.txt" % greeting],
    )

    task(
        "lint",
        desc = "Lints the sources",
        deps = ["sync"],
        env = {"FLAKE8_OPTS": "--max-line-length=100"},
        always = True,
        cmds = [prep, ("CI=1", "v/bin/flake8", resolve_path("src"))],
    )
`

func writeScript(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, ScriptName)
	require.NoError(t, os.WriteFile(script, []byte(content), 0o644))
	return dir, script
}

func TestLoadScript(t *testing.T) {
	dir, script := writeScript(t, testScript)

	tasks, options, err := LoadScript(testCtx(), script, dir, map[string]string{"greeting": "hi"}, true)
	require.NoError(t, err)

	require.Contains(t, options, "greeting")
	assert.Equal(t, "hello", options["greeting"].Default())
	assert.Equal(t, "what the hello task prints", options["greeting"].Help)

	// anonymous tasks are only reachable through references
	assert.Len(t, tasks, 2)

	hello := tasks["hello"]
	require.NotNil(t, hello)
	assert.Equal(t, "Prints a greeting", hello.Desc)
	assert.Equal(t, dir, hello.Base)
	assert.Equal(t, []string{"setup.py"}, hello.Inputs)
	assert.Equal(t, []string{"out.txt"}, hello.Outputs)
	require.Len(t, hello.Cmds, 1)
	assert.Equal(t, "echo hi > out.txt", hello.Cmds[0].String())
	assert.Equal(t, "1", hello.Env["PIP_DISABLE_PIP_VERSION_CHECK"])

	lint := tasks["lint"]
	require.NotNil(t, lint)
	assert.True(t, lint.Always)
	assert.Equal(t, []string{"sync"}, lint.Deps)
	assert.Equal(t, "--max-line-length=100", lint.Env["FLAKE8_OPTS"])
	require.Len(t, lint.Cmds, 2)

	ref, ok := lint.Cmds[0].(TaskCmdTaskRef)
	require.True(t, ok)
	assert.True(t, ref.Task.Hidden)
	assert.Equal(t, "touch prepared", ref.Task.Cmds[0].String())
	assert.Equal(t, "CI=1 v/bin/flake8 src", lint.Cmds[1].String())
}

func TestLoadScriptDefaultOptions(t *testing.T) {
	dir, script := writeScript(t, testScript)

	tasks, _, err := LoadScript(testCtx(), script, dir, map[string]string{}, true)
	require.NoError(t, err)
	assert.Equal(t, "echo hello > out.txt", tasks["hello"].Cmds[0].String())
}

func TestLoadScriptWithoutConfigure(t *testing.T) {
	dir, script := writeScript(t, testScript)

	tasks, options, err := LoadScript(testCtx(), script, dir, nil, false)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Contains(t, options, "greeting")
}

func TestLoadScriptErrors(t *testing.T) {
	scripts := map[string]string{
		"missing configure":    `x = 1`,
		"reserved name":        "def configure():\n    task(\"configure\")\n",
		"late option":          "def configure():\n    option(\"late\", \"x\")\n",
		"explicit error":       "def configure():\n    error(\"lock file is stale\")\n",
		"invalid command type": "def configure():\n    task(\"bad\", cmds = [1])\n",
		"syntax error":         "def configure(:\n",
		"missing yaml file":    "def configure():\n    read_yaml(\"nope.yml\", \"a\")\n",
		"yaml scalar index":    "def configure():\n    read_yaml(\"tools.yml\", \"count.x\")\n",
		"unknown format":       "def configure():\n    execute(\"echo hi\", format = \"xml\")\n",
		"invalid json":         "def configure():\n    execute(\"echo nope\", format = \"json\")\n",
	}

	for name, content := range scripts {
		t.Run(name, func(t *testing.T) {
			dir, script := writeScript(t, content)
			writeToolsYaml(t, dir)
			_, _, err := LoadScript(testCtx(), script, dir, nil, true)
			assert.Error(t, err)
		})
	}
}

func TestScriptTasksRunWithBuiltins(t *testing.T) {
	dir, script := writeScript(t, testScript)

	tasks, _, err := LoadScript(testCtx(), script, dir, map[string]string{"greeting": "hi"}, true)
	require.NoError(t, err)

	err = RunTask(testCtx(), dir, "hello", tasks, Options{Stamps: memStamps{}})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(content))
}

const toolsYaml = `
python:
  version: "3.9"
  packages:
    - pip
    - pytest
count: 3
`

func writeToolsYaml(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yml"), []byte(toolsYaml), 0o644))
}

func TestScriptBuiltins(t *testing.T) {
	t.Setenv("PYBUILD_TEST_VALUE", "from-env")

	cases := []struct {
		name string
		expr string
		want func(dir string) string
	}{
		{"read_yaml string", `read_yaml("tools.yml", "python.version")`, fixed("3.9")},
		{"read_yaml list index", `read_yaml("tools.yml", "python.packages.1")`, fixed("pytest")},
		{"read_yaml int", `read_yaml("tools.yml", "count") + 1`, fixed("4")},
		{"read_yaml index out of range", `read_yaml("tools.yml", "python.packages.5", "dflt")`, fixed("dflt")},
		{"read_yaml invalid index", `read_yaml("tools.yml", "python.packages.x", "dflt")`, fixed("dflt")},
		{"read_yaml missing key", `read_yaml("tools.yml", "python.missing", "dflt")`, fixed("dflt")},
		{"read_yaml missing parent", `read_yaml("tools.yml", "ruby.version", "dflt")`, fixed("dflt")},
		{"read_yaml without default", `read_yaml("tools.yml", "ruby")`, fixed("None")},
		{"execute text", `execute("echo hi")`, fixed("hi\n")},
		{"execute tuple", `execute(("echo", "a b"))`, fixed("a b\n")},
		{"execute failure", `execute("exit 3")`, fixed("False")},
		{"execute json int", `type(execute("echo '{\"a\": 1}'", format = "json")["a"])`, fixed("int")},
		{"execute json float", `execute("echo '{\"a\": 1, \"b\": 2.5}'", format = "json")["b"]`, fixed("2.5")},
		{"execute json list", `execute("echo '[1, true, null]'", format = "json")`, fixed("(1, True, None)")},
		{"getenv from process", `getenv("PYBUILD_TEST_VALUE")`, fixed("from-env")},
		{"getenv after setenv", `setenv("PYBUILD_TEST_VALUE", "override") and getenv("PYBUILD_TEST_VALUE")`, fixed("override")},
		{"execute sees setenv", `setenv("GREETING", "hey") and execute("echo $GREETING")`, fixed("hey\n")},
		{"isdir", `(isdir("sub"), isdir("tools.yml"), isdir("missing"))`, fixed("(True, False, False)")},
		{"isfile", `(isfile("tools.yml"), isfile("//tools.yml"), isfile("sub"))`, fixed("(True, True, False)")},
		{"OS and ARCH", `OS + "/" + ARCH`, fixed(runtime.GOOS + "/" + runtime.GOARCH)},
		{"prepend_path", `prepend_path("bin")`, func(dir string) string {
			return filepath.Join(dir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, script := writeScript(t, fmt.Sprintf("def configure():\n    task(\"result\", desc = str(%s))\n", tc.expr))
			writeToolsYaml(t, dir)
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

			tasks, _, err := LoadScript(testCtx(), script, dir, nil, true)
			require.NoError(t, err)
			require.Contains(t, tasks, "result")
			assert.Equal(t, tc.want(dir), tasks["result"].Desc)
		})
	}
}

func fixed(value string) func(string) string {
	return func(string) string {
		return value
	}
}
