package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/xraph/corekit/internal/startup"
)

var (
	Green  = color.New(color.FgGreen).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	Gray   = color.New(color.FgHiBlack).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// ColorConfig controls color output behavior.
type ColorConfig struct {
	Enabled    bool
	ForceColor bool
	NoColor    bool
}

// DefaultColorConfig enables color when w is a terminal, honouring the
// NO_COLOR and FORCE_COLOR conventions.
func DefaultColorConfig(w io.Writer, noColor bool) ColorConfig {
	return ColorConfig{
		Enabled:    isTerminal(w),
		ForceColor: os.Getenv("FORCE_COLOR") != "" || os.Getenv("CLICOLOR_FORCE") != "",
		NoColor:    noColor || os.Getenv("NO_COLOR") != "" || os.Getenv("CLICOLOR") == "0",
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ConfigureColors configures the global color settings.
func ConfigureColors(config ColorConfig) {
	switch {
	case config.NoColor:
		color.NoColor = true
	case config.ForceColor:
		color.NoColor = false
	default:
		color.NoColor = !config.Enabled
	}
}

func statusColor(s startup.Status) string {
	switch s {
	case startup.StatusCompleted, startup.StatusCleaned:
		return Green(string(s))
	case startup.StatusFailed, startup.StatusCleanupFailed, startup.StatusCancelled:
		return Red(string(s))
	case startup.StatusDisabled:
		return Gray(string(s))
	default:
		return Yellow(string(s))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	bold := make([]string, len(headers))
	for i, h := range headers {
		bold[i] = Bold(h)
	}
	fmt.Fprintln(tw, strings.Join(bold, "\t"))
	return tw
}

func writeTaskTable(w io.Writer, tasks []startup.Descriptor) error {
	tw := newTable(w, "ORDER", "TASK", "TYPE", "ENABLED", "DURATION", "STATUS")
	for _, t := range tasks {
		enabled := "yes"
		if !t.Enabled {
			enabled = "no"
		}
		duration := "-"
		if t.Duration > 0 {
			duration = t.Duration.Round(time.Microsecond).String()
		}
		status := statusColor(t.Status)
		if t.Error != "" {
			status += " " + Gray(t.Error)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.Order, Cyan(t.Name), t.Type, enabled, duration, status)
	}
	return tw.Flush()
}
