// Package ui provides colored operator output.
//
// Everything is written to Output, which defaults to standard error so that
// rendered documents printed on standard output stay pipeable.
package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	blue   = color.New(color.FgBlue)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Output is where log lines go. Tests swap it for a buffer.
var Output io.Writer = color.Error

// Success prints a green success message with checkmark.
func Success(format string, args ...any) {
	green.Fprintf(Output, "✓ "+format+"\n", args...)
}

// Error prints a red error message with X.
func Error(format string, args ...any) {
	red.Fprintf(Output, "✗ "+format+"\n", args...)
}

// Warning prints a yellow warning message.
func Warning(format string, args ...any) {
	yellow.Fprintf(Output, "⚠ "+format+"\n", args...)
}

// Info prints a blue info message.
func Info(format string, args ...any) {
	blue.Fprintf(Output, format+"\n", args...)
}

// Detail prints supporting text, such as a stack trace, without decoration.
func Detail(format string, args ...any) {
	faint.Fprintf(Output, format+"\n", args...)
}

// Banner prints a cyan separator line to w, used around documents shown on stdout.
func Banner(w io.Writer, format string, args ...any) {
	cyan.Fprintf(w, "--- "+format+" ---\n", args...)
}

// Plain prints without color. Used for diff bodies.
func Plain(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
