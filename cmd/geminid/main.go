package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sufield/geminid/internal/version"
)

// Version information (set via ldflags during build)
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	registry := NewCommandRegistry(VersionInfo{
		Version: version.Version,
		Commit:  commit,
		Date:    date,
	}, stdout, stderr)
	registerCommands(ctx, registry)
	return registry.Execute(args)
}

func registerCommands(ctx context.Context, r *CommandRegistry) {
	r.Register(&Command{
		Name:        "serve",
		Description: "Run the Gemini server",
		Usage:       "geminid serve <config-file>",
		Examples: []string{
			"geminid serve geminid.yaml",
			"GEMINID_PORT=1966 geminid serve geminid.properties",
		},
		Run: func(args []string) error {
			return serveCommand(ctx, r, args)
		},
	})

	r.Register(&Command{
		Name:        "validate",
		Description: "Validate a configuration file",
		Usage:       "geminid validate <config-file>",
		Examples: []string{
			"geminid validate geminid.yaml",
			"geminid validate /etc/geminid/geminid.properties",
		},
		Run: func(args []string) error {
			return validateCommand(r, args)
		},
	})

	r.Register(&Command{
		Name:        "version",
		Description: "Show version information",
		Usage:       "geminid version",
		Examples:    []string{"geminid version"},
		Run: func(args []string) error {
			return versionCommand(r, args)
		},
	})

	r.Register(&Command{
		Name:        "help",
		Description: "Show help information",
		Usage:       "geminid help [command]",
		Examples: []string{
			"geminid help",
			"geminid help serve",
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				cmd, ok := r.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown command: %s", args[0])
				}
				cmd.PrintUsage(r.stdout)
				return nil
			}
			r.PrintHelp(r.stdout)
			return nil
		},
	})
}
