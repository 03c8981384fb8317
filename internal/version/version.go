// Package version exposes the build version of geminid.
package version

// Version is set at link time:
//
//	go build -ldflags "-X github.com/sufield/geminid/internal/version.Version=1.2.3"
var Version = "dev"

// Software is the SERVER_SOFTWARE value handed to CGI scripts.
func Software() string {
	return "geminid " + Version
}
