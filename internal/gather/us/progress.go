package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	emptyFile     = ".tried-empty"
	completedFile = ".last-completed"
)

// progressTracker persists which symbols returned no bars and the last end
// date a gathering pass finished, so reruns on the same day are no-ops.
type progressTracker struct {
	mu    sync.Mutex
	dir   string
	empty map[string]struct{}
	file  *os.File
	w     *bufio.Writer
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{dir: dir, empty: make(map[string]struct{})}

	if data, err := os.ReadFile(pt.path(emptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.empty[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) path(name string) string { return filepath.Join(p.dir, name) }

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.path(emptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", emptyFile, err)
	}
	p.file = f
	p.w = bufio.NewWriter(f)
	return nil
}

// IsEmpty reports whether symbol was already fetched without result.
func (p *progressTracker) IsEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[symbol]
	return ok
}

// MarkEmpty records symbols that returned no bars.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.empty[sym]; ok {
			continue
		}
		p.empty[sym] = struct{}{}
		if _, err := p.w.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", emptyFile, err)
		}
	}
	return p.w.Flush()
}

// LastCompleted returns the end date of the last finished pass, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(p.path(completedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// MarkCompleted records date as the end date of a finished pass.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(p.path(completedFile), []byte(date), 0o644)
}

// Reset forgets the empty set. A new end date may have data for symbols
// that were empty before.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.empty = make(map[string]struct{})
	if err := os.Remove(p.path(emptyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", emptyFile, err)
	}
	return p.open()
}

// Close flushes and closes the empty-symbol file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != nil {
		p.w.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
