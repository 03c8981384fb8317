package cgi

import (
	"crypto/tls"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/geminid/internal/authz"
	"github.com/sufield/geminid/internal/testhelpers"
)

func keys(vars []Var) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Key
	}
	return out
}

func lookup(vars []Var, key string) (string, bool) {
	for _, v := range vars {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

func testRequest(t *testing.T, raw string) Request {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)
	return Request{
		URI:        u,
		Script:     filepath.Join("/srv/gemini", "cgi-bin", "hello"),
		RemoteAddr: &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 40000},
		TLS:        TLSInfo{Cipher: "TLS_AES_128_GCM_SHA256", Version: "TLSv1.3", SessionID: "abcd"},
	}
}

var testSettings = Settings{Root: "/srv/gemini", Host: "example.org", Port: 1965, Software: "geminid 1.2.3"}

func TestEnvironment_Minimal(t *testing.T) {
	env := Environment(testRequest(t, "gemini://example.org/cgi-bin/hello"), testSettings, time.Now())

	assert.Equal(t, []string{
		"GATEWAY_INTERFACE",
		"GEMINI_URL",
		"GEMINI_URL_PATH",
		"REMOTE_ADDR",
		"REMOTE_HOST",
		"TLS_CIPHER",
		"TLS_VERSION",
		"TLS_SESSION_ID",
		"SCRIPT_NAME",
		"SERVER_NAME",
		"SERVER_PORT",
		"SERVER_PROTOCOL",
		"SERVER_SOFTWARE",
	}, keys(env))

	want := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"GEMINI_URL":        "gemini://example.org/cgi-bin/hello",
		"GEMINI_URL_PATH":   "/cgi-bin/hello",
		"REMOTE_ADDR":       "192.0.2.7",
		"TLS_VERSION":       "TLSv1.3",
		"SCRIPT_NAME":       "/cgi-bin/hello",
		"SERVER_NAME":       "example.org",
		"SERVER_PORT":       "1965",
		"SERVER_PROTOCOL":   "GEMINI",
		"SERVER_SOFTWARE":   "geminid 1.2.3",
	}
	for k, v := range want {
		got, ok := lookup(env, k)
		require.True(t, ok, k)
		assert.Equal(t, v, got, k)
	}
}

func TestEnvironment_ExtraPathAndQuery(t *testing.T) {
	req := testRequest(t, "gemini://example.org/cgi-bin/hello/a/b?name=x%20y")
	req.ExtraPathInfo = "a/b"

	env := Environment(req, testSettings, time.Now())

	pathInfo, _ := lookup(env, "PATH_INFO")
	assert.Equal(t, "/a/b", pathInfo)
	translated, _ := lookup(env, "PATH_TRANSLATED")
	assert.Equal(t, filepath.Join("/srv/gemini", "a", "b"), translated)
	query, _ := lookup(env, "QUERY_STRING")
	assert.Equal(t, "name=x%20y", query)

	assert.Equal(t, []string{"GATEWAY_INTERFACE", "PATH_INFO", "PATH_TRANSLATED", "GEMINI_URL", "GEMINI_URL_PATH", "QUERY_STRING"}, keys(env)[:6])
}

func TestEnvironment_ClientCertificate(t *testing.T) {
	ca := testhelpers.NewCA(t, "Root")
	notAfter := time.Now().Add(49 * time.Hour).Truncate(time.Second)
	leaf := ca.Issue(t, testhelpers.CertOptions{CommonName: "alice", NotAfter: notAfter})

	req := testRequest(t, "gemini://example.org/cgi-bin/hello")
	req.Client = authz.NewClientIdentity(leaf.Certificate)

	now := time.Now()
	env := Environment(req, testSettings, now)

	get := func(k string) string {
		v, ok := lookup(env, k)
		require.True(t, ok, k)
		return v
	}
	assert.Equal(t, "Certificate", get("AUTH_TYPE"))
	assert.Equal(t, "CN=alice", get("REMOTE_USER"))
	assert.Equal(t, req.Client.Fingerprint, get("TLS_CLIENT_HASH"))
	assert.Equal(t, "CN=Root,O=geminid tests", get("TLS_CLIENT_ISSUER"))
	assert.Equal(t, strings.ToUpper(leaf.Certificate.SerialNumber.Text(16)), get("TLS_CLIENT_SERIAL"))
	assert.Equal(t, "3", get("TLS_CLIENT_VERSION"))
	assert.Equal(t, leaf.Certificate.NotAfter.Format(time.RFC3339), get("TLS_CLIENT_NOT_AFTER"))
	assert.Equal(t, "2", get("TLS_CLIENT_REMAIN"))

	_, ok := lookup(env, "SSL_CLIENT_S_DN")
	assert.False(t, ok, "mod_ssl variables require the compatibility flag")
}

func TestEnvironment_ModSSLVars(t *testing.T) {
	ca := testhelpers.NewCA(t, "Root")
	leaf := ca.Issue(t, testhelpers.CertOptions{CommonName: "alice"})

	req := testRequest(t, "gemini://example.org/cgi-bin/hello")
	req.Client = authz.NewClientIdentity(leaf.Certificate)

	s := testSettings
	s.ModSSLVars = true
	env := Environment(req, s, time.Now())

	for _, k := range []string{
		"SSL_CIPHER", "SSL_PROTOCOL", "SSL_SESSION_ID",
		"SSL_CLIENT_I_DN", "SSL_CLIENT_S_DN", "SSL_CLIENT_M_SERIAL", "SSL_CLIENT_M_VERSION",
		"SSL_CLIENT_V_START", "SSL_CLIENT_V_END", "SSL_CLIENT_V_REMAIN",
	} {
		_, ok := lookup(env, k)
		assert.True(t, ok, k)
	}

	ks := keys(env)
	assert.Equal(t, "SERVER_SOFTWARE", ks[len(ks)-1])
}

func TestEnvironment_IsPure(t *testing.T) {
	req := testRequest(t, "gemini://example.org/cgi-bin/hello?q")
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, Environment(req, testSettings, now), Environment(req, testSettings, now))
}

func TestNewTLSInfo(t *testing.T) {
	info := NewTLSInfo(tls.ConnectionState{Version: tls.VersionTLS13, CipherSuite: tls.TLS_AES_128_GCM_SHA256})
	assert.Equal(t, "TLSv1.3", info.Version)
	assert.Equal(t, "TLS_AES_128_GCM_SHA256", info.Cipher)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B="}, Strings([]Var{{Key: "A", Value: "1"}, {Key: "B"}}))
}
