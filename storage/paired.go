package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Valid prefix byte in the propagation log lines. A pending item is only in
// the fast store, to be copied to the slow store. A missing item was to be
// propagated but disappeared from the fast store (evicted) before that
// happened. A done item has reached the slow store.
const (
	itemPending = 'p'
	itemMissing = 'm'
	itemDone    = 'd'
)

// Each log line is a state byte, a 64-hex-character key, and a newline.
const logLineLength = 66

type propagationLog struct {
	readOffset int64

	notify chan struct{}

	mu   sync.Mutex
	file *os.File
}

// newLog reads the log at pathname (creating it if necessary), compacts
// it by dropping done entries, and reopens it for appending.
func newLog(pathname string) (*propagationLog, error) {
	const method = "newLog"
	curr, err := os.OpenFile(pathname, os.O_RDONLY|os.O_CREATE, 0666)
	if err != nil {
		return nil, errorf(method, "open %q read-only: %v", pathname, err)
	}
	next, err := os.OpenFile(pathname+".new", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errorf(method, "open %q write-only: %v", pathname+".new", err)
	}
	s := bufio.NewScanner(curr)
	for s.Scan() {
		line := s.Text()
		switch state := line[0]; state {
		case itemPending, itemMissing:
			if _, err := fmt.Fprintln(next, line); err != nil {
				return nil, errorf(method, "copying line from %q to %q: %v", curr.Name(), next.Name(), err)
			}
		case itemDone:
		default:
			return nil, errorf(method, "unrecognized item state: %d", state)
		}
	}
	if err := s.Err(); err != nil {
		return nil, errorf(method, "scan %q: %v", curr.Name(), err)
	}
	if err := curr.Close(); err != nil {
		return nil, errorf(method, "close %q: %v", curr.Name(), err)
	}
	if err := next.Close(); err != nil {
		return nil, errorf(method, "close %q: %v", next.Name(), err)
	}
	if err := os.Rename(next.Name(), curr.Name()); err != nil && !os.IsNotExist(err) {
		return nil, errorf(method, "rename %q to %q: %v", next.Name(), curr.Name(), err)
	}
	curr, err = os.OpenFile(pathname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errorf(method, "open %q read-write: %v", pathname, err)
	}
	if _, err := curr.Seek(0, io.SeekEnd); err != nil {
		return nil, errorf(method, "seek %q to EOF: %v", curr.Name(), err)
	}
	return &propagationLog{
		file:   curr,
		notify: make(chan struct{}, 1),
	}, nil
}

func (pl *propagationLog) add(key Key) error {
	pl.mu.Lock()
	n, err := fmt.Fprintf(pl.file, "%c%s\n", itemPending, key)
	pl.mu.Unlock()
	if n != logLineLength {
		return fmt.Errorf("written only %d of %d bytes", n, logLineLength)
	}
	if err != nil {
		return err
	}
	select {
	case pl.notify <- struct{}{}:
	default:
	}
	return nil
}

func (pl *propagationLog) next(p []byte) {
	for {
		pl.mu.Lock()
		n, err := pl.file.ReadAt(p, pl.readOffset)
		pl.mu.Unlock()
		if n == logLineLength && err == nil {
			return
		}
		<-pl.notify
	}
}

func (pl *propagationLog) mark(state byte, off int64) error {
	pl.mu.Lock()
	n, err := pl.file.WriteAt([]byte{state}, off)
	pl.mu.Unlock()
	if n != 1 {
		return fmt.Errorf("wrote %d bytes instead of 1", n)
	}
	return err
}

func (pl *propagationLog) close() {
	pl.mu.Lock()
	_ = pl.file.Close()
	pl.file = nil
	pl.mu.Unlock()
}

// ErrReadOnly is returned by Paired.Put when no propagation log was
// configured, making the pair read-only.
var ErrReadOnly = errors.New("read-only store")

// Paired provides the benefits of a fast local store and long-term,
// remote persistence. It writes to the fast store and queues
// propagation to the slow store via an append-only log, so pending
// writes survive a restart. Reads check the fast store first, then
// fall back to the slow store, repopulating the fast store for next
// time. This is the backing of the index's optional committed-node
// replication to S3 (config.C.Storage == "paired"): fast is the
// local dat/ directory, slow is the S3 bucket.
type Paired struct {
	retryInterval time.Duration

	fast Store
	slow Store

	once sync.Once

	log *propagationLog
}

// NewPaired creates a write-back cache from fast to slow, persisting
// the propagation queue at logPath. If logPath is empty, the pair is
// read-only: Get still works, Put always fails.
func NewPaired(fast, slow Store, logPath string) (p *Paired, err error) {
	p = new(Paired)
	p.retryInterval = 5 * time.Second
	p.fast = fast
	p.slow = slow
	if logPath != "" {
		p.log, err = newLog(logPath)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Paired) Get(k Key) (v Value, err error) {
	v, err = p.fast.Get(k)
	if errors.Is(err, ErrNotFound) {
		v, err = p.slow.Get(k)
		if err == nil {
			if e := p.fast.Put(k, v); e != nil {
				log.WithFields(log.Fields{
					"key":   k,
					"cause": e.Error(),
				}).Warning("Could not write item to the fast store")
			}
		}
	}
	return
}

// Put writes to the fast store synchronously and enqueues the key for
// asynchronous propagation to the slow store.
func (p *Paired) Put(k Key, v Value) error {
	if p.log == nil {
		return ErrReadOnly
	}
	p.EnsureBackgroundPuts()
	if err := p.fast.Put(k, v); err != nil {
		return err
	}
	return p.log.add(k)
}

// EnsureBackgroundPuts starts the propagation goroutine once. Callers
// don't normally need to call this; Put does so on first use.
func (p *Paired) EnsureBackgroundPuts() {
	p.once.Do(func() {
		if p.log != nil {
			go p.propagate()
		}
	})
}

func (p *Paired) propagate() {
	sem := make(chan struct{}, 16)
	up1 := func(key Key, off int64) {
		defer func() { <-sem }()
		value, err := p.fast.Get(key)
		if err != nil {
			_ = p.log.mark(itemMissing, off)
			return
		}
		for {
			if err = p.slow.Put(key, value); err == nil {
				break
			}
			log.WithFields(log.Fields{
				"key":   key,
				"cause": err.Error(),
			}).Warn("Could not propagate to slow store, will retry")
			time.Sleep(p.retryInterval)
		}
		_ = p.log.mark(itemDone, off)
	}
	line := make([]byte, logLineLength)
	for {
		p.log.next(line)
		k := Key(line[1:65])
		off := p.log.readOffset
		p.log.readOffset += logLineLength
		if state := line[0]; state != itemPending && state != itemMissing {
			log.WithField("state", state).Warn("Skipping item with unexpected state")
			continue
		}
		sem <- struct{}{}
		go up1(k, off)
	}
}

// Delete removes an item from the slow store first, then from the
// fast store, so a concurrent Get can't repopulate the fast store
// from the slow store after the fast-store delete.
func (p *Paired) Delete(k Key) error {
	if err := p.slow.Delete(k); err != nil {
		return err
	}
	return p.fast.Delete(k)
}

// Notify wakes up a goroutine blocked in propagationLog.next, used by
// tests to avoid sleeping.
func (p *Paired) Notify() {
	select {
	case p.log.notify <- struct{}{}:
	default:
	}
}
