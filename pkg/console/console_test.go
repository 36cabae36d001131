package console

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWriterFormatsEvents(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(NewWriter(out, true))

	logger.Info().Str("task", "provision").Bool("command", true).Msg("python3 -m venv --clear v")
	logger.Warn().Msg("careful")
	logger.Error().Msg("boom")

	assert.Equal(t, "provision: $ python3 -m venv --clear v\ncareful\nError: boom\n", out.String())
}

func TestWriterKeepsBrackets(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(NewWriter(out, true))

	logger.Info().Msg("pytest[testing]==3.4.0")
	assert.Equal(t, "pytest[testing]==3.4.0\n", out.String())
}
