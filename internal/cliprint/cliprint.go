// Package cliprint renders CLI output with the ASCII status markers
// (check/warn/cross) the original getter CLI used, colored only when
// stdout is a terminal.
package cliprint

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

const (
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

func marker(symbol, color string) string {
	if !colorEnabled {
		return symbol
	}
	return color + symbol + colorReset
}

// OK prints a "✓ "-prefixed success line.
func OK(format string, args ...any) {
	fmt.Println(marker("✓", colorGreen), fmt.Sprintf(format, args...))
}

// Warn prints a "⚠ "-prefixed warning line.
func Warn(format string, args ...any) {
	fmt.Println(marker("⚠", colorYellow), fmt.Sprintf(format, args...))
}

// Fail prints a "✗ "-prefixed failure line.
func Fail(format string, args ...any) {
	fmt.Println(marker("✗", colorRed), fmt.Sprintf(format, args...))
}
