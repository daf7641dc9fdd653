package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetState returns the package to its no-sink default after a test
// that configured output.
func resetState(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		mu.Lock()
		sink = nil
		file = nil
		closed = false
		mu.Unlock()
	})
}

func TestLogfWritesTaggedLine(t *testing.T) {
	resetState(t)
	var buf bytes.Buffer
	SetOutput(&buf)

	Logf(Coordinator, "reparsing %d files", 3)

	line := buf.String()
	assert.Contains(t, line, "[coordinator]")
	assert.Contains(t, line, "reparsing 3 files")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLogfWithoutSinkIsDropped(t *testing.T) {
	resetState(t)
	assert.False(t, Enabled())
	Logf(Query, "nobody is listening") // must not panic or block
}

func TestLogfAfterCloseIsSwallowed(t *testing.T) {
	resetState(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	require.True(t, Enabled())

	require.NoError(t, Close())
	assert.False(t, Enabled())

	Logf(Worker, "late teardown message")
	assert.Empty(t, buf.String(), "writes after Close must be dropped, not surfaced")
}

func TestOpenLogFileCreatesAndReceivesLines(t *testing.T) {
	resetState(t)
	dir := filepath.Join(t.TempDir(), "logs")

	path, err := OpenLogFile(dir)
	require.NoError(t, err)
	require.True(t, Enabled())

	Logf(Server, "serving on stdio")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[server] serving on stdio")
}

func TestSetOutputNilDisables(t *testing.T) {
	resetState(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetOutput(nil)

	Logf(Storage, "vacuum complete")
	assert.Empty(t, buf.String())
	assert.False(t, Enabled())
}

func TestLogfConcurrentWriters(t *testing.T) {
	resetState(t)
	var buf bytes.Buffer
	SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				Logf(Coordinator, "writer %d line %d", n, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 8*25)
	for _, line := range lines {
		assert.Contains(t, line, "[coordinator] writer")
	}
}
