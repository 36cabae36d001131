package pyenv

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ArchiveSuffixes lists the formats setuptools can produce for a source distribution.
var ArchiveSuffixes = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".zip"}

// IsArchive reports whether name looks like a source distribution.
func IsArchive(name string) bool {
	for _, suffix := range ArchiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// ListDist splits the entries of dir into archives and everything else. Both lists are sorted.
func ListDist(dir string) (archives, others []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", dir)
	}

	for _, entry := range entries {
		if entry.Type().IsRegular() && IsArchive(entry.Name()) {
			archives = append(archives, entry.Name())
		} else {
			others = append(others, entry.Name())
		}
	}

	sort.Strings(archives)
	sort.Strings(others)
	return archives, others, nil
}

// PkgInfo holds the metadata header of a source distribution.
type PkgInfo struct {
	Name    string
	Version string
	Fields  map[string]string
}

// parsePkgInfo reads the RFC 822 style header of a PKG-INFO file. Repeated fields keep their first
// value; the body (long description) is ignored.
func parsePkgInfo(r io.Reader) (PkgInfo, error) {
	result := PkgInfo{Fields: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastKey := ""
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			if lastKey != "" {
				result.Fields[lastKey] += "\n" + strings.TrimSpace(line)
			}
			continue
		}

		pos := strings.Index(line, ":")
		if pos < 1 {
			return result, eris.Errorf("malformed PKG-INFO line %q", line)
		}

		key := strings.TrimSpace(line[:pos])
		lastKey = ""
		if _, present := result.Fields[key]; !present {
			result.Fields[key] = strings.TrimSpace(line[pos+1:])
			lastKey = key
		}
	}

	if err := scanner.Err(); err != nil {
		return result, eris.Wrap(err, "failed to read PKG-INFO")
	}

	result.Name = result.Fields["Name"]
	result.Version = result.Fields["Version"]
	if result.Version == "" {
		return result, eris.New("PKG-INFO has no Version field")
	}
	return result, nil
}

// isTopLevelPkgInfo matches "<name>-<version>/PKG-INFO" but not the copies inside egg-info dirs.
func isTopLevelPkgInfo(name string) bool {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	parts := strings.Split(name, "/")
	return len(parts) == 2 && parts[1] == "PKG-INFO"
}

func readTarPkgInfo(r io.Reader) (PkgInfo, error) {
	archive := tar.NewReader(r)
	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return PkgInfo{}, eris.Wrap(err, "failed to read archive entry")
		}

		if item.Typeflag == tar.TypeReg && isTopLevelPkgInfo(item.Name) {
			return parsePkgInfo(archive)
		}
	}

	return PkgInfo{}, eris.New("archive contains no PKG-INFO")
}

func readZipPkgInfo(filename string) (PkgInfo, error) {
	archive, err := zip.OpenReader(filename)
	if err != nil {
		return PkgInfo{}, eris.Wrapf(err, "failed to open %s", filename)
	}
	defer archive.Close()

	for _, item := range archive.File {
		if !isTopLevelPkgInfo(item.Name) {
			continue
		}

		handle, err := item.Open()
		if err != nil {
			return PkgInfo{}, eris.Wrapf(err, "failed to open %s", item.Name)
		}
		defer handle.Close()

		return parsePkgInfo(handle)
	}

	return PkgInfo{}, eris.New("archive contains no PKG-INFO")
}

// ReadPkgInfo extracts the PKG-INFO metadata from a source distribution.
func ReadPkgInfo(filename string) (PkgInfo, error) {
	if strings.HasSuffix(filename, ".zip") {
		return readZipPkgInfo(filename)
	}

	f, err := os.Open(filename)
	if err != nil {
		return PkgInfo{}, eris.Wrapf(err, "failed to open %s", filename)
	}
	defer f.Close()

	var info PkgInfo
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		reader, err := gzip.NewReader(f)
		if err != nil {
			return PkgInfo{}, eris.Wrapf(err, "failed to decompress %s", filename)
		}
		defer reader.Close()

		info, err = readTarPkgInfo(reader)
		if err != nil {
			return info, eris.Wrapf(err, "failed to inspect %s", filename)
		}
	case strings.HasSuffix(filename, ".tar.xz"):
		reader, err := xz.NewReader(f)
		if err != nil {
			return PkgInfo{}, eris.Wrapf(err, "failed to decompress %s", filename)
		}

		info, err = readTarPkgInfo(reader)
		if err != nil {
			return info, eris.Wrapf(err, "failed to inspect %s", filename)
		}
	case strings.HasSuffix(filename, ".tar.bz2"):
		info, err = readTarPkgInfo(bzip2.NewReader(f))
		if err != nil {
			return info, eris.Wrapf(err, "failed to inspect %s", filename)
		}
	default:
		return PkgInfo{}, eris.Errorf("unsupported archive format: %s", filename)
	}

	return info, nil
}
