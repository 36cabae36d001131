// Package console renders zerolog events for humans.
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables stack traces and raw event fields when set.
const DebugEnv = "BUILDSYS_DEBUG"

// Writer decodes zerolog's JSON events and prints them as coloured lines.
type Writer struct {
	out    io.Writer
	buffer strings.Builder
	color  colorstring.Colorize
	lock   sync.Mutex
}

var _ io.Writer = (*Writer)(nil)

// NewWriter returns a Writer printing to out. Colours are disabled if noColor is set.
func NewWriter(out io.Writer, noColor bool) *Writer {
	return &Writer{
		out: out,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: noColor,
			Reset:   true,
		},
	}
}

func (w *Writer) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task + ": ")
	}

	if command, ok := evt["command"].(bool); ok && command {
		w.buffer.WriteString("[bold]$ [reset]")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if os.Getenv(DebugEnv) != "" {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = io.WriteString(w.out, w.color.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// ConfigureErrors makes zerolog render eris errors, including stack traces in debug mode.
func ConfigureErrors() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(DebugEnv) != "")
	}
}

// PrintError prints a failed step
func PrintError(out io.Writer, msg string) {
	colorstring.Fprintf(out, "[red][bold]  ->[reset] %s\n", msg)
}
