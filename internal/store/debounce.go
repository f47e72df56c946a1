package store

import (
	"sync"
	"time"
)

// SnapshotFunc serialises the current state. It is called from the writer
// and must take whatever lock guards that state.
type SnapshotFunc func() ([]byte, error)

// Debounced coalesces bursts of mutations into one write per interval.
// A zero interval writes synchronously on every MarkDirty.
type Debounced struct {
	file     *File
	snapshot SnapshotFunc
	interval time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool

	writeMu sync.Mutex
}

// NewDebounced creates a debounced writer for file
func NewDebounced(file *File, interval time.Duration, snapshot SnapshotFunc) *Debounced {
	return &Debounced{file: file, snapshot: snapshot, interval: interval}
}

// MarkDirty schedules a write no later than interval from now
func (d *Debounced) MarkDirty() {
	if d.interval <= 0 {
		d.write()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.dirty = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
	}
}

func (d *Debounced) fire() {
	d.mu.Lock()
	d.timer = nil
	dirty := d.dirty
	d.dirty = false
	d.mu.Unlock()

	if dirty {
		d.write()
	}
}

// Flush writes pending changes now
func (d *Debounced) Flush() error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.dirty = false
	d.mu.Unlock()

	return d.write()
}

// Close flushes and stops accepting further marks
func (d *Debounced) Close() error {
	err := d.Flush()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return err
}

func (d *Debounced) write() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	data, err := d.snapshot()
	if err != nil {
		d.file.logger.ErrorWithErr("snapshot failed", err)
		return err
	}
	return d.file.WriteBytes(data)
}
