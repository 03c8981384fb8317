package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sufield/geminid"
)

func serveCommand(ctx context.Context, r *CommandRegistry, args []string) error {
	cmd, _ := r.Lookup("serve")
	fs := cmd.NewFlagSet(r.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := fs.Arg(0)
	if configPath == "" {
		configPath = os.Getenv(geminid.ConfigEnv)
	}
	if configPath == "" {
		fs.Usage()
		return fmt.Errorf("config file path required (argument or %s)", geminid.ConfigEnv)
	}

	return geminid.Serve(ctx, configPath)
}
