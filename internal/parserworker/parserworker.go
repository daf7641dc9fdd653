// Package parserworker manages the pool of C6 parse-worker processes.
// Each worker is a separately exec'd instance of the
// cindex-parse-worker binary (spec §4.6: spawn, never fork), fed one
// task at a time over a JSON-lines stdin/stdout pipe. The pool is
// pre-forked: every process instance in the pool is started before
// any caller dispatches work, satisfying the alternative the spec
// allows to a pure per-task spawn.
package parserworker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	cerrors "github.com/standardbeagle/cindex/internal/errors"
	"github.com/standardbeagle/cindex/internal/types"
)

// BinaryName is the worker executable name resolved via PATH or a
// directory alongside the coordinator binary.
const BinaryName = "cindex-parse-worker"

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// Pool is a fixed-size set of pre-spawned worker processes, borrowed
// round-robin-free via a buffered channel of idle workers.
type Pool struct {
	binaryPath string
	idle       chan *process

	mu  sync.Mutex // guards all; replacements are spawned concurrently
	all []*process
}

// NewPool spawns size worker processes immediately. size is typically
// CPU count − 1 (minimum 1), per §4.9's bounded concurrency default.
func NewPool(ctx context.Context, binaryPath string, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{binaryPath: binaryPath, idle: make(chan *process, size)}
	for i := 0; i < size; i++ {
		proc, err := spawn(binaryPath)
		if err != nil {
			p.Close()
			return nil, cerrors.New(cerrors.BrokenPool, "spawn_worker", err)
		}
		p.all = append(p.all, proc)
		p.idle <- proc
	}
	return p, nil
}

func spawn(binaryPath string) (*process, error) {
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{cmd: cmd, stdin: stdin, reader: bufio.NewReaderSize(stdout, 1<<20)}, nil
}

// Parse borrows an idle worker, submits task, and returns its result.
// ctx is honored only while waiting for an idle worker: cancellation
// then returns promptly. Once a task is submitted, Parse waits for the
// worker's reply regardless of ctx; the worker is not interrupted
// mid-parse (libclang has no cooperative cancellation hook).
func (p *Pool) Parse(ctx context.Context, task types.ParseTask) (types.ParseResult, error) {
	var proc *process
	select {
	case proc = <-p.idle:
	case <-ctx.Done():
		return types.ParseResult{}, ctx.Err()
	}

	result, err := p.roundTrip(proc, task)
	if err != nil {
		// A crashed or wedged worker is replaced rather than returned
		// to the idle pool, so one bad translation unit cannot shrink
		// capacity permanently (§7 WorkerCrashed).
		proc.stdin.Close()
		proc.cmd.Process.Kill()
		proc.cmd.Wait()
		replacement, spawnErr := spawn(p.binaryPath)
		if spawnErr == nil {
			p.mu.Lock()
			p.all = append(p.all, replacement)
			p.mu.Unlock()
			p.idle <- replacement
		}
		return types.ParseResult{}, cerrors.New(cerrors.WorkerCrashed, "parse", err).WithFile(task.File)
	}

	p.idle <- proc
	return result, nil
}

func (p *Pool) roundTrip(proc *process, task types.ParseTask) (types.ParseResult, error) {
	proc.mu.Lock()
	defer proc.mu.Unlock()

	data, err := json.Marshal(task)
	if err != nil {
		return types.ParseResult{}, fmt.Errorf("encode task: %w", err)
	}
	data = append(data, '\n')
	if _, err := proc.stdin.Write(data); err != nil {
		return types.ParseResult{}, fmt.Errorf("write task: %w", err)
	}

	line, err := proc.reader.ReadBytes('\n')
	if err != nil {
		return types.ParseResult{}, fmt.Errorf("read result: %w", err)
	}
	var result types.ParseResult
	if err := json.Unmarshal(line, &result); err != nil {
		return types.ParseResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

// Close terminates every worker process the pool ever spawned,
// replacements included. Already-dead processes report a kill error
// that is ignored here; they were reaped when they were replaced.
func (p *Pool) Close() error {
	p.mu.Lock()
	procs := p.all
	p.all = nil
	p.mu.Unlock()

	for _, proc := range procs {
		proc.stdin.Close()
		proc.cmd.Process.Kill()
		proc.cmd.Wait()
	}
	return nil
}

// Size reports how many worker processes the pool has started,
// including crashed workers that have since been replaced.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
