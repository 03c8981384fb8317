package geminid

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort reserves and releases a loopback port.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, port int, logDir string) string {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.gmi"), []byte("# geminid\n"), 0o644))

	path := filepath.Join(dir, "geminid.yaml")
	content := fmt.Sprintf(`root: %s
host: localhost
port: %d
control_address: "127.0.0.1:0"
shutdown_timeout: 2s
log_dir: %s
log:
  level: error
`, root, port, logDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fetch(t *testing.T, port int, request string) string {
	t.Helper()

	conn, err := tls.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port), &tls.Config{
		ServerName:         "localhost",
		InsecureSkipVerify: true, // #nosec G402 - server uses a temporary certificate
	})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	logDir := t.TempDir()

	shutdown, err := Start(writeConfig(t, port, logDir))
	require.NoError(t, err)

	assert.Equal(t, "20 text/gemini\r\n# geminid\n", fetch(t, port, fmt.Sprintf("gemini://localhost:%d/\r\n", port)))
	assert.Equal(t, "53 Invalid host\r\n", fetch(t, port, "gemini://example.org/\r\n"))

	require.NoError(t, shutdown())
	assert.NoError(t, shutdown(), "shutdown is idempotent")

	data, err := os.ReadFile(filepath.Join(logDir, "access.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `" 20 10`)
	assert.Contains(t, lines[1], `"gemini://example.org/" 53 -`)

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	assert.Error(t, err, "listener closed")
}

func TestStart_InvalidConfig(t *testing.T) {
	_, err := Start(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config")
}

func TestServe_StopsWhenContextCanceled(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port, "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, path) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			_ = c.Close()
		}
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "Serve did not return")
	}
}

func TestStart_ListenerFailureShutsDown(t *testing.T) {
	port := freePort(t)
	inst, err := start(writeConfig(t, port, ""))
	require.NoError(t, err)

	inst.group.Go(func() error { return errors.New("listener broke") })

	select {
	case <-inst.stopping:
	case <-time.After(5 * time.Second):
		require.Fail(t, "instance kept running after a listener failure")
	}

	err = inst.wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener broke")

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	assert.Error(t, err, "listener closed")
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(ConfigEnv, "")
	_, err := resolveConfigPath()
	assert.ErrorContains(t, err, ConfigEnv)

	t.Setenv(ConfigEnv, "/etc/geminid.yaml")
	path, err := resolveConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/geminid.yaml", path)
}
