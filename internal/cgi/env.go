// Package cgi runs scripts as request handlers.
//
// Environment builds the variables a script receives, Gateway starts the
// script with its standard error merged into standard output, and
// ReadHeaders parses the header block the script prints before its body.
package cgi

import (
	"crypto/tls"
	"encoding/hex"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sufield/geminid/internal/authz"
)

const (
	gatewayInterface = "CGI/1.1"
	serverProtocol   = "GEMINI"
	authType         = "Certificate"

	// modSSLTimeLayout is the date format Apache mod_ssl uses.
	modSSLTimeLayout = "Jan _2 15:04:05 2006 GMT"

	sessionIDLabel = "EXPORTER-geminid-session-id"
)

// Var is one environment variable.
type Var struct {
	Key   string
	Value string
}

func (v Var) String() string { return v.Key + "=" + v.Value }

// TLSInfo describes the negotiated TLS session.
type TLSInfo struct {
	Cipher    string // IANA cipher suite name
	Version   string // e.g. "TLSv1.3"
	SessionID string // lower-case hex, may be empty
}

// NewTLSInfo summarizes a completed handshake. TLS does not expose session
// ids to Go, so SessionID is derived from exported keying material and is
// empty when the connection cannot export it.
func NewTLSInfo(state tls.ConnectionState) TLSInfo {
	info := TLSInfo{
		Cipher:  tls.CipherSuiteName(state.CipherSuite),
		Version: strings.Replace(tls.VersionName(state.Version), "TLS ", "TLSv", 1),
	}
	if !state.HandshakeComplete {
		return info
	}
	if km, err := state.ExportKeyingMaterial(sessionIDLabel, nil, 32); err == nil {
		info.SessionID = hex.EncodeToString(km)
	}
	return info
}

// Request is the per-request input to Environment.
type Request struct {
	URI           *url.URL
	Script        string // absolute path under the document root
	ExtraPathInfo string
	RemoteAddr    net.Addr
	TLS           TLSInfo
	Client        *authz.ClientIdentity
}

// Settings is the server-wide input to Environment.
type Settings struct {
	Root       string
	Host       string
	Port       int
	Software   string
	ModSSLVars bool
}

// Environment returns the variables for a script invocation in a fixed
// order. It reads nothing but its arguments.
func Environment(req Request, s Settings, now time.Time) []Var {
	env := make([]Var, 0, 40)
	add := func(k, v string) { env = append(env, Var{Key: k, Value: v}) }

	add("GATEWAY_INTERFACE", gatewayInterface)
	if req.ExtraPathInfo != "" {
		add("PATH_INFO", "/"+req.ExtraPathInfo)
		add("PATH_TRANSLATED", filepath.Join(s.Root, filepath.FromSlash(req.ExtraPathInfo)))
	}
	add("GEMINI_URL", req.URI.String())
	add("GEMINI_URL_PATH", req.URI.Path)
	if req.URI.RawQuery != "" || req.URI.ForceQuery {
		add("QUERY_STRING", req.URI.RawQuery)
	}

	if host := remoteHost(req.RemoteAddr); host != "" {
		add("REMOTE_ADDR", host)
		add("REMOTE_HOST", host)
	}

	add("TLS_CIPHER", req.TLS.Cipher)
	add("TLS_VERSION", req.TLS.Version)
	add("TLS_SESSION_ID", req.TLS.SessionID)
	if s.ModSSLVars {
		add("SSL_CIPHER", req.TLS.Cipher)
		add("SSL_PROTOCOL", req.TLS.Version)
		add("SSL_SESSION_ID", req.TLS.SessionID)
	}

	if c := req.Client; c != nil {
		remain := strconv.Itoa(c.RemainingDays(now))
		add("AUTH_TYPE", authType)
		add("REMOTE_USER", c.Subject)
		add("TLS_CLIENT_HASH", c.Fingerprint)
		add("TLS_CLIENT_ISSUER", c.Issuer)
		add("TLS_CLIENT_SUBJECT", c.Subject)
		add("TLS_CLIENT_SERIAL", c.Serial)
		add("TLS_CLIENT_VERSION", strconv.Itoa(c.Version))
		add("TLS_CLIENT_NOT_BEFORE", c.NotBefore.Format(time.RFC3339))
		add("TLS_CLIENT_NOT_AFTER", c.NotAfter.Format(time.RFC3339))
		add("TLS_CLIENT_REMAIN", remain)
		if s.ModSSLVars {
			add("SSL_CLIENT_I_DN", c.Issuer)
			add("SSL_CLIENT_S_DN", c.Subject)
			add("SSL_CLIENT_M_SERIAL", c.Serial)
			add("SSL_CLIENT_M_VERSION", strconv.Itoa(c.Version))
			add("SSL_CLIENT_V_START", c.NotBefore.UTC().Format(modSSLTimeLayout))
			add("SSL_CLIENT_V_END", c.NotAfter.UTC().Format(modSSLTimeLayout))
			add("SSL_CLIENT_V_REMAIN", remain)
		}
	}

	add("SCRIPT_NAME", scriptName(s.Root, req.Script))
	add("SERVER_NAME", s.Host)
	add("SERVER_PORT", strconv.Itoa(s.Port))
	add("SERVER_PROTOCOL", serverProtocol)
	add("SERVER_SOFTWARE", s.Software)
	return env
}

// Strings renders vars as KEY=value pairs for exec.Cmd.Env.
func Strings(vars []Var) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}

func remoteHost(addr net.Addr) string {
	switch a := addr.(type) {
	case nil:
		return ""
	case *net.TCPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return a.String()
		}
		return host
	}
}

func scriptName(root, script string) string {
	rel, err := filepath.Rel(root, script)
	if err != nil {
		return "/" + filepath.Base(script)
	}
	return "/" + filepath.ToSlash(rel)
}
