package pyenv

import (
	"archive/tar"
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const testPkgInfo = `Metadata-Version: 2.1
Name: lovely-pytest-docker
Version: 0.3.1
Summary: Pytest testing utilities with docker containers.
Classifier: Programming Language :: Python :: 3
Classifier: Programming Language :: Python :: 2.7
Description: # lovely-pytest-docker
        continued description

Body text that is ignored
`

var sdistFiles = map[string]string{
	"lovely-pytest-docker-0.3.1/src/lovely_pytest_docker.egg-info/PKG-INFO": "Name: wrong\nVersion: 9.9.9\n",
	"lovely-pytest-docker-0.3.1/PKG-INFO":                                  testPkgInfo,
	"lovely-pytest-docker-0.3.1/setup.py":                                  "from setuptools import setup\n",
}

var sdistOrder = []string{
	"lovely-pytest-docker-0.3.1/src/lovely_pytest_docker.egg-info/PKG-INFO",
	"lovely-pytest-docker-0.3.1/PKG-INFO",
	"lovely-pytest-docker-0.3.1/setup.py",
}

func writeTar(t *testing.T, w io.Writer) {
	t.Helper()

	archive := tar.NewWriter(w)
	for _, name := range sdistOrder {
		content := sdistFiles[name]
		require.NoError(t, archive.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := archive.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, archive.Close())
}

func createSdist(t *testing.T, dir, suffix string) string {
	t.Helper()

	filename := filepath.Join(dir, "lovely-pytest-docker-0.3.1"+suffix)
	f, err := os.Create(filename)
	require.NoError(t, err)
	defer f.Close()

	switch suffix {
	case ".tar.gz":
		writer := gzip.NewWriter(f)
		writeTar(t, writer)
		require.NoError(t, writer.Close())
	case ".tar.xz":
		writer, err := xz.NewWriter(f)
		require.NoError(t, err)
		writeTar(t, writer)
		require.NoError(t, writer.Close())
	case ".zip":
		writer := zip.NewWriter(f)
		for _, name := range sdistOrder {
			entry, err := writer.Create(name)
			require.NoError(t, err)
			_, err = entry.Write([]byte(sdistFiles[name]))
			require.NoError(t, err)
		}
		require.NoError(t, writer.Close())
	default:
		t.Fatalf("unsupported suffix %s", suffix)
	}

	return filename
}

func TestReadPkgInfo(t *testing.T) {
	for _, suffix := range []string{".tar.gz", ".tar.xz", ".zip"} {
		t.Run(suffix, func(t *testing.T) {
			filename := createSdist(t, t.TempDir(), suffix)

			info, err := ReadPkgInfo(filename)
			require.NoError(t, err)
			assert.Equal(t, "lovely-pytest-docker", info.Name)
			assert.Equal(t, "0.3.1", info.Version)
			assert.Equal(t, "Programming Language :: Python :: 3", info.Fields["Classifier"])
			assert.Equal(t, "# lovely-pytest-docker\ncontinued description", info.Fields["Description"])
		})
	}
}

func TestReadPkgInfoWithoutMetadata(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "empty-1.0.tar.gz")
	f, err := os.Create(filename)
	require.NoError(t, err)

	writer := gzip.NewWriter(f)
	archive := tar.NewWriter(writer)
	require.NoError(t, archive.Close())
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	_, err = ReadPkgInfo(filename)
	assert.Error(t, err)
}

func TestListDist(t *testing.T) {
	dir := t.TempDir()
	createSdist(t, dir, ".tar.gz")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build"), 0o755))

	archives, others, err := ListDist(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"lovely-pytest-docker-0.3.1.tar.gz"}, archives)
	assert.Equal(t, []string{"build", "notes.txt"}, others)
}

func TestWriteChecksum(t *testing.T) {
	filename := createSdist(t, t.TempDir(), ".zip")

	digest, err := WriteChecksum(filename, false)
	require.NoError(t, err)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	expected := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(expected[:]), digest)

	line, err := os.ReadFile(filename + ".sha256")
	require.NoError(t, err)
	assert.Equal(t, digest+"  lovely-pytest-docker-0.3.1.zip\n", string(line))
	assert.True(t, strings.HasSuffix(string(line), "\n"))
}
