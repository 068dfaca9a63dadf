package persist

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
)

type counter struct {
	Count int    `json:"count"`
	Label string `json:"label,omitempty"`
}

func initCounter(label string) Initializer[counter] {
	return func(SetFunc[counter], func() counter) counter {
		return counter{Label: label}
	}
}

// recordingBackend is a Memory backend that records writes and can be slowed
// down or made to fail.
type recordingBackend struct {
	*storage.Memory

	mu       sync.Mutex
	sets     []string
	setErr   error
	setDelay func(n int) time.Duration
	getDelay time.Duration
	gets     int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Memory: storage.NewMemory()}
}

func (b *recordingBackend) GetItem(ctx context.Context, name string) (string, bool, error) {
	b.mu.Lock()
	b.gets++
	delay := b.getDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return b.Memory.GetItem(ctx, name)
}

func (b *recordingBackend) SetItem(ctx context.Context, name, value string) error {
	b.mu.Lock()
	b.sets = append(b.sets, value)
	n := len(b.sets)
	err := b.setErr
	delay := b.setDelay
	b.mu.Unlock()

	if delay != nil {
		time.Sleep(delay(n))
	}
	if err != nil {
		return err
	}
	return b.Memory.SetItem(ctx, name, value)
}

func (b *recordingBackend) setCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sets...)
}

func (b *recordingBackend) failWrites(err error) {
	b.mu.Lock()
	b.setErr = err
	b.mu.Unlock()
}

func (b *recordingBackend) seed(t *testing.T, name, value string) {
	t.Helper()
	if err := b.Memory.SetItem(context.Background(), name, value); err != nil {
		t.Fatal(err)
	}
}

func (b *recordingBackend) stored(t *testing.T, name string) (storage.Record, bool) {
	t.Helper()
	raw, ok, err := b.Memory.GetItem(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		return storage.Record{}, false
	}
	var rec storage.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("stored value %q: %v", raw, err)
	}
	return rec, true
}

// recordingLogger keeps every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	fields []log.Field
}

func (l *recordingLogger) add(level, msg string, fields []log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Debug(msg string, fields ...log.Field) { l.add("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...log.Field)  { l.add("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...log.Field)  { l.add("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...log.Field) { l.add("error", msg, fields) }
func (l *recordingLogger) With(...log.Field) log.Logger          { return l }

// withError returns the entries at level carrying an error field matching target.
func (l *recordingLogger) withError(level string, target error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level != level {
			continue
		}
		for _, f := range e.fields {
			if err, ok := f.Value.(error); ok && f.Key == "error" && err == target {
				n++
			}
		}
	}
	return n
}

// phaseRecorder counts overlapping hydration runs.
type phaseRecorder struct {
	NoopEventHandler

	mu          sync.Mutex
	active      int
	maxActive   int
	hydrations  []HydrationEvent
	persistErrs []PersistErrorEvent
}

func (r *phaseRecorder) OnPhaseChange(e PhaseChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case e.Previous == PhaseIdle:
		r.active++
		if r.active > r.maxActive {
			r.maxActive = r.active
		}
	case e.Current == PhaseIdle:
		r.active--
	}
}

func (r *phaseRecorder) OnHydration(e HydrationEvent) {
	r.mu.Lock()
	r.hydrations = append(r.hydrations, e)
	r.mu.Unlock()
}

func (r *phaseRecorder) OnPersistError(e PersistErrorEvent) {
	r.mu.Lock()
	r.persistErrs = append(r.persistErrs, e)
	r.mu.Unlock()
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func optionsFor(b storage.Backend, name string) Options[counter, counter] {
	return Options[counter, counter]{
		Name:    name,
		Storage: storage.NewJSON(storage.Static(b)),
	}
}
