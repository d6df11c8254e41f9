// Template-agent is a conversational agent backed by a hosted LLM, the
// tools of a remote MCP server and a checkpointed conversation store.
//
// Configuration is loaded from a YAML file discovered automatically (see
// [config.DefaultSearchPaths]) and overridden by environment variables.
// Without a config file the defaults plus environment are used.
//
// Usage:
//
//	template-agent ask <question>          Ask a single question
//	template-agent chat                    Interactive conversation on stdin
//	template-agent history --thread <id>   Print a stored conversation
//	template-agent version                 Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// main builds the OS-level environment and delegates to [run] so that
// os.Exit, os.Stdout and os.Args stay out of the application logic.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Answers go to stdout; structured logs and
// errors go to stderr. Cancelling ctx aborts the current turn.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetIn(stdin)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		return errors.New("interrupted")
	}
	return err
}
