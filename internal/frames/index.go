package frames

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Index is the in-memory, timestamp-ordered view of the frame directory.
// All accessors return copies.
type Index struct {
	dir string

	mu     sync.RWMutex
	frames []Frame
}

// NewIndex creates an empty index for dir. Call Rebuild to load it.
func NewIndex(dir string) *Index {
	return &Index{dir: dir}
}

// Dir returns the frame directory.
func (x *Index) Dir() string { return x.dir }

// Rebuild rescans the directory and replaces the index contents.
func (x *Index) Rebuild() error {
	found, err := scanFrames(x.dir)
	if err != nil {
		return err
	}
	x.mu.Lock()
	x.frames = found
	x.mu.Unlock()
	slog.Debug("frame index rebuilt", "dir", x.dir, "frames", len(found))
	return nil
}

// Append records a newly persisted frame, keeping timestamp order.
// A duplicate timestamp replaces the existing entry.
func (x *Index) Append(f Frame) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := len(x.frames)
	if n == 0 || x.frames[n-1].Timestamp < f.Timestamp {
		x.frames = append(x.frames, f)
		return
	}
	i := sort.Search(n, func(i int) bool { return x.frames[i].Timestamp >= f.Timestamp })
	if i < n && x.frames[i].Timestamp == f.Timestamp {
		x.frames[i] = f
		return
	}
	x.frames = append(x.frames, Frame{})
	copy(x.frames[i+1:], x.frames[i:])
	x.frames[i] = f
}

// List returns all frames, oldest first.
func (x *Index) List() []Frame {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Frame, len(x.frames))
	copy(out, x.frames)
	return out
}

// Names returns frame file names, oldest first.
func (x *Index) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, len(x.frames))
	for i, f := range x.frames {
		out[i] = f.Name
	}
	return out
}

// Last returns the newest frame.
func (x *Index) Last() (Frame, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.frames) == 0 {
		return Frame{}, false
	}
	return x.frames[len(x.frames)-1], true
}

// Len returns the number of indexed frames.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.frames)
}

func scanFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var out []Frame
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, err := ParseFrameName(e.Name())
		if err != nil {
			continue
		}
		out = append(out, NewFrame(dir, ts))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
