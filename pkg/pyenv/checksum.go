package pyenv

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

func getProgressBar(length int64, desc string, visible bool) *progressbar.ProgressBar {
	if !visible || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// WriteChecksum stores the SHA-256 digest of filename in filename.sha256 using the sha256sum
// format and returns the hex digest.
func WriteChecksum(filename string, showProgress bool) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", eris.Wrapf(err, "failed to open %s", filename)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", eris.Wrapf(err, "failed to stat %s", filename)
	}

	hash := sha256.New()
	bar := getProgressBar(stat.Size(), "    checksum", showProgress)
	_, err = io.Copy(io.MultiWriter(hash, bar), f)
	if err != nil {
		return "", eris.Wrapf(err, "failed to read %s", filename)
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(filename))
	err = os.WriteFile(filename+".sha256", []byte(line), 0o644)
	if err != nil {
		return "", eris.Wrapf(err, "failed to write checksum for %s", filename)
	}

	return digest, nil
}
