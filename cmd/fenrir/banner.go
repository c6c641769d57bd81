package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the fenrir ASCII art banner. When useColor is true,
// ANSI escape codes shade it from white to grey to red.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		``,
		`   __                _      `,
		`  / _| ___ _ __  _ __(_)_ __ `,
		` | |_ / _ \ '_ \| '__| | '__|`,
		` |  _|  __/ | | | |  | | |   `,
		` |_|  \___|_| |_|_|  |_|_|   `,
		``,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[0m",    // reset (blank line)
		"\033[1;97m", // bold bright white
		"\033[1;37m", // bold white
		"\033[1;90m", // bold grey
		"\033[1;91m", // bold bright red
		"\033[1;31m", // bold red
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i], line)
	}
}
