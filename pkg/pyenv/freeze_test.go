package pyenv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const freezeOutput = `attrs==17.4.0
click==6.7
first==2.0.1
-e git+https://github.com/lovelysystems/lovely-pytest-docker@abc#egg=lovely_pytest_docker
# Editable install with no version control (lovely-pytest-docker==0.0.0)
pip-tools==1.10.1
pkg-resources==0.0.0
six==1.11.0
`

func TestParseFreeze(t *testing.T) {
	reqs, err := ParseFreeze(freezeOutput)
	require.NoError(t, err)

	names := make([]string, len(reqs))
	for idx, req := range reqs {
		names[idx] = req.Name
	}
	assert.Equal(t, []string{"attrs", "click", "first", "pip-tools", "pkg-resources", "six"}, names)
}

func TestCompareInstalledMatches(t *testing.T) {
	locked, err := ParseLockFile(strings.NewReader("attrs==17.4.0\nclick==6.7\nfirst==2.0.1\nSix==1.11.0\n"), "requirements.txt")
	require.NoError(t, err)

	installed, err := ParseFreeze(freezeOutput)
	require.NoError(t, err)

	mismatch := CompareInstalled(locked, installed, SyncIgnored)
	assert.True(t, mismatch.Empty(), mismatch.Error())
}

func TestCompareInstalledReportsDifferences(t *testing.T) {
	locked, err := ParseLockFile(strings.NewReader(`attrs==18.1.0
pytest==3.4.0
colorama==0.3.9 ; sys_platform == "win32"
`), "requirements.txt")
	require.NoError(t, err)

	installed, err := ParseFreeze("attrs==17.4.0\nsix==1.11.0\npip==9.0.1\n")
	require.NoError(t, err)

	mismatch := CompareInstalled(locked, installed, SyncIgnored)
	require.False(t, mismatch.Empty())

	require.Len(t, mismatch.Missing, 1)
	assert.Equal(t, "pytest", mismatch.Missing[0].Name)

	require.Len(t, mismatch.Unexpected, 1)
	assert.Equal(t, "six", mismatch.Unexpected[0].Name)

	assert.Equal(t, []VersionChange{{Name: "attrs", Locked: "18.1.0", Installed: "17.4.0"}}, mismatch.Changed)
	assert.Contains(t, mismatch.Error(), "attrs (locked 18.1.0, installed 17.4.0)")
}
