package cgi

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestGateway_StartMergesStderr(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello", `printf 'Content-Type: text/plain\n\n'
printf 'out\n'
printf 'err\n' >&2
`)

	p, err := Gateway{}.Start(script, []Var{{Key: "GATEWAY_INTERFACE", Value: "CGI/1.1"}})
	require.NoError(t, err)

	md, err := ReadHeaders(p.Stdout(), nil)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", md.ContentType)

	body, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "out\nerr\n", string(body))

	code, err := p.Finish()
	require.NoError(t, err)
	assert.Zero(t, code)
}

func TestGateway_EnvironmentAndWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "env", `printf 'Content-Type: text/plain\n\n'
echo "$GATEWAY_INTERFACE"
echo "$SERVER_NAME"
echo "${HOME:-unset}"
pwd
`)

	p, err := Gateway{}.Start(script, []Var{
		{Key: "GATEWAY_INTERFACE", Value: "CGI/1.1"},
		{Key: "SERVER_NAME", Value: "example.org"},
	})
	require.NoError(t, err)
	defer p.Finish()

	_, err = ReadHeaders(p.Stdout(), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "CGI/1.1", lines[0])
	assert.Equal(t, "example.org", lines[1])
	assert.Equal(t, "unset", lines[2], "only the built variables are passed")

	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, wantDir, lines[3])
}

func TestGateway_SymlinkedScript(t *testing.T) {
	targetDir := t.TempDir()
	script := writeScript(t, targetDir, "target", "printf 'Content-Type: text/plain\\n\\n'\n")

	links := t.TempDir()
	link := filepath.Join(links, "alias")
	require.NoError(t, os.Symlink(script, link))

	p, err := Gateway{}.Start(link, nil)
	require.NoError(t, err)
	defer p.Finish()

	wantCommand, err := filepath.EvalSymlinks(script)
	require.NoError(t, err)
	assert.Equal(t, wantCommand, p.Command)
}

func TestGateway_NonZeroExit(t *testing.T) {
	script := writeScript(t, t.TempDir(), "fail", "exit 3\n")

	p, err := Gateway{}.Start(script, nil)
	require.NoError(t, err)

	_, _ = io.ReadAll(p.Stdout())
	code, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	again, _ := p.Finish()
	assert.Equal(t, 3, again)
}

func TestGateway_StartFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := Gateway{}.Start(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)

	notExec := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notExec, []byte("hello"), 0o644))
	_, err = Gateway{}.Start(notExec, nil)
	assert.Error(t, err)
}
