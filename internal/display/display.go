package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer writes user-facing status messages with optional color. Colors are
// disabled automatically when stdout is not a terminal so scripted callers
// get plain text.
type Printer struct {
	out     io.Writer
	success *color.Color
	info    *color.Color
	warn    *color.Color
	fail    *color.Color
}

// NewPrinter creates a printer writing to stdout with terminal detection.
func NewPrinter() *Printer {
	if !detectColorSupport() {
		color.NoColor = true
	}
	return NewPrinterTo(os.Stdout)
}

// NewPrinterTo creates a printer writing to the given writer.
func NewPrinterTo(out io.Writer) *Printer {
	return &Printer{
		out:     out,
		success: color.New(color.FgGreen),
		info:    color.New(color.FgCyan),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed),
	}
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

// Successf prints a green success line.
func (p *Printer) Successf(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.success.Sprintf(format, args...))
}

// Infof prints an informational line.
func (p *Printer) Infof(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.info.Sprintf(format, args...))
}

// Warnf prints a yellow warning line.
func (p *Printer) Warnf(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.warn.Sprintf(format, args...))
}

// Errorf prints a red error line.
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.fail.Sprintf(format, args...))
}

// Plainf prints an uncolored line.
func (p *Printer) Plainf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}
