package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/linsm/attestable-builds/internal/runnerevent"
)

// tailFile streams newly-appended lines from path, parses each with
// runnerevent.ParseLine, and sends recognized events to out until ctx is
// cancelled or the agent reports it is finished.
//
// The original implementation shells out to `tail -f`; that couples the
// enclave to an external binary and its platform-specific flag surface for
// no benefit here, since the set of readers is exactly one process. Instead
// this watches the file with fsnotify and falls back to a short poll
// interval, which is portable and needs no subprocess.
func tailFile(ctx context.Context, path string, out chan<- runnerevent.Event) error {
	f, err := openForTail(ctx, path)
	if err != nil {
		return err
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("supervisor: watch %s: %w", path, err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		for {
			line, readErr := reader.ReadString('\n')
			if line != "" {
				event := runnerevent.ParseLine(trimNewline(line))
				if event.Kind != runnerevent.Unrecognized {
					select {
					case out <- event:
					case <-ctx.Done():
						return ctx.Err()
					}
					if event.Kind == runnerevent.Finished {
						return nil
					}
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					return fmt.Errorf("supervisor: read %s: %w", path, readErr)
				}
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Events:
		case <-ticker.C:
		}
	}
}

func openForTail(ctx context.Context, path string) (*os.File, error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("supervisor: open %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("supervisor: %s did not appear within 30s", path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	n = len(s)
	if n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
