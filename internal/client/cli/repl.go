package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

type executor interface {
	exec(ctx context.Context, args []string) error
}

// runREPL reads one command per line from in. Errors are reported and the
// loop continues; it stops on EOF, "exit" or "quit", or when ctx is done.
// The exit code is 1 if any command failed.
func runREPL(ctx context.Context, e executor, in io.Reader, out io.Writer) int {
	scanner := bufio.NewScanner(in)
	code := 0
	for {
		fmt.Fprint(out, "fileproxy> ")
		if ctx.Err() != nil || !scanner.Scan() {
			fmt.Fprintln(out)
			return code
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return code
		}
		if err := e.exec(ctx, parts); err != nil {
			fmt.Fprintln(out, "error:", err)
			code = 1
		}
	}
}
