package main

import (
	"fmt"
	"io"

	"github.com/sufield/geminid/internal/config"
)

func validateCommand(r *CommandRegistry, args []string) error {
	cmd, _ := r.Lookup("validate")
	fs := cmd.NewFlagSet(r.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("config file path required")
	}

	configPath := fs.Arg(0)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(r.stdout, "✓ Valid configuration: %s\n", configPath)
	printSummary(r.stdout, cfg)
	return nil
}

func printSummary(w io.Writer, cfg config.Config) {
	fmt.Fprintln(w, "\nServer settings:")
	fmt.Fprintf(w, "  Root:     %s\n", cfg.Root)
	fmt.Fprintf(w, "  Host:     %s\n", cfg.Host)
	fmt.Fprintf(w, "  Port:     %d\n", cfg.Port)
	fmt.Fprintf(w, "  Workers:  %d\n", cfg.NumWorkers)
	if cfg.ControlAddress != "" {
		fmt.Fprintf(w, "  Control:  %s\n", cfg.ControlAddress)
	} else {
		fmt.Fprintln(w, "  Control:  disabled")
	}

	switch {
	case cfg.TLS.CertFile != "":
		fmt.Fprintf(w, "  Certificate: %s\n", cfg.TLS.CertFile)
	case cfg.TLS.SPIRESocket != "":
		fmt.Fprintf(w, "  Certificate: SPIRE Workload API (%s)\n", cfg.TLS.SPIRESocket)
	default:
		fmt.Fprintf(w, "  Certificate: temporary self-signed, valid %s\n", cfg.TLS.TemporaryCertValidity)
		fmt.Fprintln(w, "  ⚠ Clients pinning the certificate will see a new one on every restart")
	}

	if cfg.CGIDir != "" {
		fmt.Fprintf(w, "  CGI:      %s (max %d local redirects)\n", cfg.CGIDir, cfg.MaxLocalRedirects)
	}

	if len(cfg.SecureDomains) == 0 {
		fmt.Fprintln(w, "  Secure domains: none")
		return
	}
	fmt.Fprintln(w, "  Secure domains:")
	for _, d := range cfg.SecureDomains {
		fmt.Fprintf(w, "    /%s\n", d.Prefix)
	}
}
