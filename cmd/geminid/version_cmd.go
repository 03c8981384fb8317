package main

import (
	"crypto/tls"
	"fmt"
	"runtime"
)

func versionCommand(r *CommandRegistry, args []string) error {
	cmd, _ := r.Lookup("version")
	fs := cmd.NewFlagSet(r.stderr)
	verbose := fs.Bool("verbose", false, "Show build and TLS details")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := r.version
	fmt.Fprintf(r.stdout, "geminid %s (commit: %s, built: %s)\n", v.Version, v.Commit, v.Date)
	if !*verbose {
		return nil
	}

	fmt.Fprintf(r.stdout, "  Go:                  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(r.stdout, "  Minimum TLS version: %s\n", tls.VersionName(tls.VersionTLS12))
	fmt.Fprintln(r.stdout, "  Client certificates: requested, verified per secure domain")
	return nil
}
