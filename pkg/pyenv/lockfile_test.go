package pyenv

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLockFile(t *testing.T) {
	content := `#
# This file is autogenerated by pip-compile
#
--index-url https://pypi.org/simple

attrs==17.4.0             # via pytest
pluggy==0.6.0
py==1.5.2 \
    --hash=sha256:8cca5c229d225f8c1e3085be4fcf306090b00850fefad892f9d96c7b6e2f310f
pytest[testing]==3.4.0
six==1.11.0 ; python_version < "3.8"
Zope.Interface==4.4.3
`

	reqs, err := ParseLockFile(strings.NewReader(content), "requirements.txt")
	require.NoError(t, err)
	require.Len(t, reqs, 6)

	assert.Equal(t, Requirement{Name: "attrs", Version: "17.4.0", Line: 6}, reqs[0])
	assert.Equal(t, "py", reqs[2].Name)
	assert.Equal(t, 8, reqs[2].Line)
	assert.Equal(t, "[testing]", reqs[3].Extras)
	assert.Equal(t, `python_version < "3.8"`, reqs[4].Marker)
	assert.Equal(t, "zope-interface", reqs[5].Key())
}

func TestParseLockFileRejectsMalformedLines(t *testing.T) {
	cases := map[string]string{
		"unpinned":          "pytest\n",
		"range":             "pytest>=3.0\n",
		"wildcard":          "pytest==3.*\n",
		"editable":          "-e .\n",
		"nested file":       "-r other.txt\n",
		"unknown option":    "pytest==3.4.0 --install-option=foo\n",
		"duplicate":         "six==1.11.0\nSix==1.11.0\n",
		"dangling continue": "six==1.11.0 \\",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLockFile(strings.NewReader(content), "requirements.txt")
			require.Error(t, err)

			var lockErr *LockFileError
			assert.True(t, errors.As(err, &lockErr), "expected a LockFileError, got %v", err)
		})
	}
}

func TestReadLockFileMissing(t *testing.T) {
	_, err := ReadLockFile(filepath.Join(t.TempDir(), "requirements.txt"))
	require.Error(t, err)
}

func TestReadLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte("six==1.11.0\n"), 0o644))

	reqs, err := ReadLockFile(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "six==1.11.0", reqs[0].String())
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "lovely-pytest-docker", NormalizeName("Lovely_Pytest.Docker"))
	assert.Equal(t, "a-b", NormalizeName("a--_b"))
}
