package accesslog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var when = time.Date(2026, time.February, 3, 4, 5, 6, 0, time.FixedZone("", -5*3600))

func TestEntry_Format(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name: "anonymous",
			entry: Entry{
				RemoteAddr: "192.0.2.1",
				Request:    "gemini://example.org/",
				Status:     20,
				BodySize:   123,
				Time:       when,
			},
			want: "192.0.2.1 - - [03/Feb/2026:04:05:06 -0500] \"gemini://example.org/\" 20 123\r\n",
		},
		{
			name: "authenticated user is url encoded",
			entry: Entry{
				RemoteAddr: "192.0.2.1",
				User:       "CN=alice,O=Example Org",
				Request:    "gemini://example.org/private/",
				Status:     20,
				BodySize:   5,
				Time:       when,
			},
			want: "192.0.2.1 - CN%3Dalice%2CO%3DExample+Org [03/Feb/2026:04:05:06 -0500] \"gemini://example.org/private/\" 20 5\r\n",
		},
		{
			name: "empty body",
			entry: Entry{
				RemoteAddr: "192.0.2.1",
				Request:    "gemini://example.org/private/",
				Status:     60,
				Time:       when,
			},
			want: "192.0.2.1 - - [03/Feb/2026:04:05:06 -0500] \"gemini://example.org/private/\" 60 -\r\n",
		},
		{
			name:  "unknown address",
			entry: Entry{Status: 59, Time: when},
			want:  "- - - [03/Feb/2026:04:05:06 -0500] \"\" 59 -\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Format())
		})
	}
}

func TestLogger_ConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Log(Entry{RemoteAddr: "192.0.2.9", Request: "gemini://example.org/", Status: 20, BodySize: 1, Time: when}))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "192.0.2.9 - - ["))
	}
}

func TestOpen_AppendsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("existing\r\n"), 0o600))

	l, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Log(Entry{RemoteAddr: "192.0.2.1", Status: 51, Time: when}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "existing\r\n192.0.2.1 - - ["))

	assert.ErrorIs(t, l.Log(Entry{Time: when}), ErrClosed)
}

func TestOpen_NoDirectoryDiscards(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	assert.NoError(t, l.Log(Entry{Time: when}))
	assert.NoError(t, l.Close())
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
