package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// RunREPL drives an interactive line-editing session over the reference
// target's console (spec §6.4): raw mode is entered when stdin/stdout are a
// real terminal so line history and signal handling match a serial console;
// otherwise it falls back to plain line buffering (piped input, CI).
func RunREPL(core *Core, stdinFd int, in io.Reader, out io.Writer) ExitCode {
	fmt.Fprintln(out, "corekernel shell — type 'exit' to leave")

	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			fmt.Fprintf(out, "shell: raw mode unavailable: %v\n", err)
		} else {
			defer term.Restore(stdinFd, state)
			t := term.NewTerminal(readWriter{in, out}, "kernel> ")
			return runTerm(core, t, out)
		}
	}

	return runPlain(core, in, out)
}

type readWriter struct {
	io.Reader
	io.Writer
}

func runTerm(core *Core, t *term.Terminal, out io.Writer) ExitCode {
	last := ExitOk
	for {
		line, err := t.ReadLine()
		if err != nil {
			return last
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return last
		}
		last = Dispatch(core, out, strings.Fields(line))
	}
}

func runPlain(core *Core, in io.Reader, out io.Writer) ExitCode {
	scanner := bufio.NewScanner(in)
	last := ExitOk
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		last = Dispatch(core, out, strings.Fields(line))
	}
	return last
}
