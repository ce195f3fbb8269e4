package main

import (
	"os"

	"golang.org/x/term"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// terminalWidth returns the width of f, or 0 if unknown.
func terminalWidth(f *os.File) int {
	if !isTerminal(f) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// optionalInt maps 0 to nil so the server applies its default.
func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
