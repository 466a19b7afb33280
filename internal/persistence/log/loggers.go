package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/events"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files: <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write buffers one line. Call Flush to push buffered lines into the zstd frame.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger records lifecycle events off the tick goroutine. Events are dropped, and
// counted, when the buffer is full.
type EventLogger struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
	debug  bool

	ch     chan events.Event
	sendMu sync.RWMutex
	wg     sync.WaitGroup
	once   sync.Once

	closed  atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewEventLogger writes to <dir>/events. With debug unset, high-volume debug kinds are skipped.
func NewEventLogger(dir string, buffer int, debug bool, logger *stdlog.Logger) *EventLogger {
	if buffer <= 0 {
		buffer = 4096
	}
	l := &EventLogger{
		w:      NewJSONLZstdWriter(filepath.Join(dir, "events"), "events"),
		logger: logger,
		debug:  debug,
		ch:     make(chan events.Event, buffer),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

// Listener is meant for events.Bus.Subscribe.
func (l *EventLogger) Listener() events.Listener {
	return l.Record
}

func (l *EventLogger) Record(ev events.Event) {
	if l == nil || (ev.Kind.Debug() && !l.debug) {
		return
	}
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed.Load() {
		return
	}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
	}
}

func (l *EventLogger) Written() uint64 { return l.written.Load() }
func (l *EventLogger) Dropped() uint64 { return l.dropped.Load() }

func (l *EventLogger) loop() {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case ev, ok := <-l.ch:
			if !ok {
				return
			}
			if err := l.w.Write(ev); err != nil {
				if l.logger != nil {
					l.logger.Printf("eventlog write err=%v", err)
				}
				continue
			}
			l.written.Add(1)
		case <-flush.C:
			if err := l.w.Flush(); err != nil && l.logger != nil {
				l.logger.Printf("eventlog flush err=%v", err)
			}
		}
	}
}

func (l *EventLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.sendMu.Lock()
		l.closed.Store(true)
		close(l.ch)
		l.sendMu.Unlock()
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

// ListEventFiles returns the event log segments under dir in chronological order.
func ListEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadEvents decodes one segment and calls fn for every line, stopping at the first error.
func ReadEvents(path string, fn func(events.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
