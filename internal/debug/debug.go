// Package debug is the indexer's diagnostic log (C12). Two constraints
// shape it. The stdio MCP transport cannot tolerate stray bytes on
// stdout — they corrupt JSON-RPC framing — so nothing here ever writes
// to a standard stream: lines go to an explicitly configured sink,
// normally a file the CLI opens at startup, and a process with no sink
// logs nothing. And teardown paths (worker finalizers, late coordinator
// goroutines) may log after the sink is gone, so a write after Close is
// swallowed rather than surfaced; diagnostics must never take the
// indexer down with them.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Component tags each log line with the subsystem that produced it, so
// a single shared log file stays greppable per concern.
type Component string

const (
	Coordinator Component = "coordinator"
	Worker      Component = "worker"
	Query       Component = "query"
	Server      Component = "server"
	Storage     Component = "storage"
)

var (
	mu     sync.Mutex
	sink   io.Writer
	file   *os.File
	closed bool
)

// Enabled reports whether log lines currently have somewhere to go.
// Hot paths can check it before building an expensive message.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return sink != nil && !closed
}

// SetOutput directs log lines to w; nil disables logging. Meant for
// tests and for transports that provide their own side channel. Any
// previously opened log file stays open — the caller that opened it
// owns closing it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = w
	closed = false
}

// OpenLogFile creates dir if needed and starts logging to a fresh
// timestamped file inside it, returning the file's path.
func OpenLogFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("cindex-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("create log file: %w", err)
	}

	mu.Lock()
	sink = f
	file = f
	closed = false
	mu.Unlock()
	return path, nil
}

// Close stops logging and closes the log file if one is open. Logf
// calls arriving after Close are dropped silently.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	closed = true
	sink = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Logf writes one timestamped, component-tagged line. Lines lost to a
// missing, closed or failing sink are dropped without an error: a
// worker finalizer logging during teardown must not abort the batch.
func Logf(c Component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sink == nil || closed {
		return
	}
	prefix := []interface{}{time.Now().Format(time.RFC3339), c}
	fmt.Fprintf(sink, "%s [%s] "+format+"\n", append(prefix, args...)...)
}
