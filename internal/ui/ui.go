// Package ui prints ringwrap's human-facing lines. Everything goes to stderr
// so the wrapped command keeps stdout to itself.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter overrides the output writer (for testing). nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

// Writer returns the current output writer.
func Writer() io.Writer {
	return writer
}

var color = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	color = enabled
}

// ColorEnabled reports whether output is colored.
func ColorEnabled() bool {
	return color
}

func ansi(code, s string) string {
	if !color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s wrapped in bold ANSI codes.
func Bold(s string) string { return ansi("1", s) }

// Green returns s wrapped in green ANSI codes.
func Green(s string) string { return ansi("32", s) }

// Red returns s wrapped in red ANSI codes.
func Red(s string) string { return ansi("31", s) }

// Dim returns s wrapped in dim ANSI codes.
func Dim(s string) string { return ansi("2", s) }

// OKTag returns a green "✓" for passing checks.
func OKTag() string { return Green("✓") }

// FailTag returns a red "✗" for failing checks.
func FailTag() string { return Red("✗") }

// Section writes a bold title with a thin underline.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len(title))))
}

// OnOff renders a tracing flag as a green ON or a red OFF.
func OnOff(on bool) string {
	if on {
		return Green("ON")
	}
	return Red("OFF")
}

// Warn prints a warning.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("33", "Warning:"), msg)
}

// Warnf prints a formatted warning.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints an error.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi("31", "Error:"), msg)
}

// Errorf prints a formatted error.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a message with no prefix.
func Info(msg string) {
	fmt.Fprintln(writer, msg)
}

// Infof prints a formatted message with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(writer, format+"\n", args...)
}
