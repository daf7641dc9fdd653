//go:build clang

// Command cindex-parse-worker is the spawn target for C6 parse
// workers. The coordinator never forks itself to get a worker: it
// execs this binary as a fresh process (spec §4.6, "worker spawning
// discipline") and feeds it one task at a time as a line of JSON on
// stdin, reading back one line of JSON on stdout per task. Running a
// forked copy of a multithreaded coordinator risks deadlocking on
// locks inherited mid-acquisition; a freshly exec'd process never
// inherits that state.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/standardbeagle/cindex/internal/astwalk"
	"github.com/standardbeagle/cindex/internal/types"
)

func main() {
	walker := astwalk.NewWalker()
	defer walker.Dispose()

	reader := bufio.NewReaderSize(os.Stdin, 1<<20)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if runErr := handleLine(walker, line, writer); runErr != nil {
				fmt.Fprintf(os.Stderr, "cindex-parse-worker: %v\n", runErr)
			}
			writer.Flush()
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "cindex-parse-worker: read stdin: %v\n", err)
			os.Exit(1)
		}
	}
}

func handleLine(walker *astwalk.Walker, line []byte, writer io.Writer) error {
	var task types.ParseTask
	if err := json.Unmarshal(line, &task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}

	result := walker.Parse(task)

	enc := json.NewEncoder(writer)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
