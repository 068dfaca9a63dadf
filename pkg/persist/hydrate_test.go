package persist

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/statesync/pkg/storage"
)

func TestHydrate_MigratesOlderVersion(t *testing.T) {
	ctx := testContext(t)
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":2},"version":1}`)

	var migrateCalls int
	opts := optionsFor(backend, "app")
	opts.Version = 2
	opts.Migrate = func(raw json.RawMessage, version int) (counter, error) {
		migrateCalls++
		if version != 1 {
			t.Errorf("migrate called with version %d, want 1", version)
		}
		var old counter
		if err := json.Unmarshal(raw, &old); err != nil {
			return counter{}, err
		}
		return counter{Count: old.Count + 1}, nil
	}

	s, err := New(initCounter("init"), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if migrateCalls != 1 {
		t.Fatalf("migrate calls = %d, want 1", migrateCalls)
	}
	if got := s.Get(); got.Count != 3 || got.Label != "init" {
		t.Fatalf("state = %+v, want count 3 with initializer label", got)
	}
	if !s.HasHydrated() {
		t.Fatal("HasHydrated() = false after successful migration")
	}

	rec, ok := backend.stored(t, "app")
	if !ok || rec.Version == nil || *rec.Version != 2 {
		t.Fatalf("stored record = %+v, want version 2", rec)
	}
	var stored counter
	if err := json.Unmarshal(rec.State, &stored); err != nil || stored.Count != 3 {
		t.Fatalf("stored state = %s", rec.State)
	}
}

func TestHydrate_MissingMigrateIgnoresStoredState(t *testing.T) {
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":2},"version":0}`)
	logger := &recordingLogger{}

	var callbackErr error
	var callbackCalled bool
	opts := optionsFor(backend, "app")
	opts.Version = 1
	opts.OnRehydrateStorage = func(counter) func(counter, error) {
		return func(_ counter, err error) {
			callbackCalled = true
			callbackErr = err
		}
	}

	s, err := New(initCounter("default"), opts, WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}

	if got := s.Get(); got != (counter{Label: "default"}) {
		t.Fatalf("state = %+v, want initializer default", got)
	}
	if logger.withError("error", ErrMissingMigration) != 1 {
		t.Fatal("missing migration was not reported")
	}
	if !callbackCalled || callbackErr != nil {
		t.Fatalf("callback called=%v err=%v, want success", callbackCalled, callbackErr)
	}
	if len(backend.setCalls()) != 0 {
		t.Fatal("storage must not be rewritten when nothing was migrated")
	}
}

func TestHydrate_SameVersionMerges(t *testing.T) {
	type persisted struct {
		Count int `json:"count"`
	}
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":5},"version":3}`)

	opts := Options[counter, persisted]{
		Name:       "app",
		Storage:    storage.NewJSON(storage.Static(backend)),
		Version:    3,
		Partialize: func(c counter) persisted { return persisted{Count: c.Count} },
		Migrate: func(json.RawMessage, int) (persisted, error) {
			t.Error("migrate must not run when versions match")
			return persisted{}, nil
		},
	}
	s, err := New(initCounter("kept"), opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Get(); got != (counter{Count: 5, Label: "kept"}) {
		t.Fatalf("state = %+v", got)
	}
}

func TestHydrate_MissingVersionFieldSkipsMigration(t *testing.T) {
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":4}}`)

	opts := optionsFor(backend, "app")
	opts.Version = 7
	opts.Migrate = func(json.RawMessage, int) (counter, error) {
		t.Error("a record without version must not be migrated")
		return counter{}, nil
	}
	s, err := New(initCounter(""), opts)
	if err != nil {
		t.Fatal(err)
	}
	if s.Get().Count != 4 {
		t.Fatalf("state = %+v, want stored count", s.Get())
	}
}

func TestHydrate_FractionalVersionMigrates(t *testing.T) {
	ctx := testContext(t)
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":4},"version":1.5}`)

	var from []int
	opts := optionsFor(backend, "app")
	opts.Version = 1
	opts.Migrate = func(raw json.RawMessage, version int) (counter, error) {
		from = append(from, version)
		var c counter
		err := json.Unmarshal(raw, &c)
		c.Count *= 10
		return c, err
	}
	s, err := New(initCounter(""), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if len(from) != 1 || from[0] != 1 {
		t.Fatalf("migrate calls = %v, want one call from version 1", from)
	}
	if s.Get().Count != 40 {
		t.Fatalf("state = %+v, want migrated count", s.Get())
	}
	rec, ok := backend.stored(t, "app")
	if !ok || rec.Version == nil || *rec.Version != 1 {
		t.Fatalf("stored record = %+v, want version 1", rec)
	}
}

func TestHydrate_FirstRun(t *testing.T) {
	backend := newRecordingBackend()
	s, err := New(initCounter("fresh"), optionsFor(backend, "app"))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Get(); got != (counter{Label: "fresh"}) {
		t.Fatalf("state = %+v", got)
	}
	if !s.HasHydrated() {
		t.Fatal("HasHydrated() = false after first run")
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("Phase() = %v, want Idle", s.Phase())
	}
}

func TestHydrate_SkipHydration(t *testing.T) {
	ctx := testContext(t)
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":9},"version":0}`)

	opts := optionsFor(backend, "app")
	opts.SkipHydration = true
	s, err := New(initCounter("x"), opts)
	if err != nil {
		t.Fatal(err)
	}

	if s.HasHydrated() {
		t.Fatal("HasHydrated() = true with SkipHydration")
	}
	if s.Get().Count != 0 {
		t.Fatalf("state changed without hydration: %+v", s.Get())
	}

	if _, err := s.Rehydrate().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if !s.HasHydrated() || s.Get().Count != 9 {
		t.Fatalf("after Rehydrate: hydrated=%v state=%+v", s.HasHydrated(), s.Get())
	}
}

func TestHydrate_FailuresGoToCallback(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		stored    string
		configure func(*Options[counter, counter])
		wantIs    error
		wantPhase Phase
	}{
		{
			name:      "malformed record",
			stored:    `{"state":`,
			wantIs:    storage.ErrDecode,
			wantPhase: PhaseLoading,
		},
		{
			name:   "migrate error",
			stored: `{"state":{"count":1},"version":0}`,
			configure: func(o *Options[counter, counter]) {
				o.Version = 1
				o.Migrate = func(json.RawMessage, int) (counter, error) { return counter{}, boom }
			},
			wantIs:    boom,
			wantPhase: PhaseMigrating,
		},
		{
			name:   "merge error",
			stored: `{"state":{"count":1},"version":0}`,
			configure: func(o *Options[counter, counter]) {
				o.Merge = func(*counter, counter) (counter, error) { return counter{}, boom }
			},
			wantIs:    boom,
			wantPhase: PhaseMerging,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			backend := newRecordingBackend()
			backend.seed(t, "app", tt.stored)

			var got error
			opts := optionsFor(backend, "app")
			opts.OnRehydrateStorage = func(counter) func(counter, error) {
				return func(_ counter, err error) { got = err }
			}
			if tt.configure != nil {
				tt.configure(&opts)
			}

			s, err := New(initCounter("init"), opts)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.Rehydrate().Wait(ctx); err != nil {
				t.Fatalf("Rehydrate must not fail: %v", err)
			}

			if !errors.Is(got, tt.wantIs) {
				t.Fatalf("callback error = %v, want %v", got, tt.wantIs)
			}
			var he *HydrationError
			if !errors.As(got, &he) || he.Phase != tt.wantPhase || he.RunID == "" {
				t.Fatalf("callback error = %#v, want *HydrationError in %v", got, tt.wantPhase)
			}
			if s.HasHydrated() {
				t.Fatal("HasHydrated() = true after failure")
			}
			if s.Get() != (counter{Label: "init"}) {
				t.Fatalf("state changed on failure: %+v", s.Get())
			}
		})
	}
}

func TestHydrate_RepersistFailureKeepsAppliedState(t *testing.T) {
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":1},"version":0}`)
	backend.failWrites(errors.New("read-only"))

	var got error
	opts := optionsFor(backend, "app")
	opts.Version = 1
	opts.Migrate = func(json.RawMessage, int) (counter, error) { return counter{Count: 10}, nil }
	opts.OnRehydrateStorage = func(counter) func(counter, error) {
		return func(_ counter, err error) { got = err }
	}

	s, err := New(initCounter(""), opts)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("callback did not receive the write failure")
	}
	if s.Get().Count != 10 {
		t.Fatalf("applied state rolled back: %+v", s.Get())
	}
	if s.HasHydrated() {
		t.Fatal("HasHydrated() = true after failed re-persist")
	}
}

func TestHydrate_Listeners(t *testing.T) {
	ctx := testContext(t)
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":3},"version":0}`)

	opts := optionsFor(backend, "app")
	opts.SkipHydration = true
	s, err := New(initCounter("l"), opts)
	if err != nil {
		t.Fatal(err)
	}

	var events []string
	var started, finished counter
	s.OnHydrate(func(c counter) {
		events = append(events, "hydrate")
		started = c
	})
	removeFirst := s.OnFinishHydration(func(counter) { events = append(events, "finish-1") })
	s.OnFinishHydration(func(c counter) {
		events = append(events, "finish-2")
		finished = c
	})

	if _, err := s.Rehydrate().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	removeFirst()
	if _, err := s.Rehydrate().Wait(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"hydrate", "finish-1", "finish-2", "hydrate", "finish-2"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if started.Count != 3 || finished.Count != 3 {
		t.Fatalf("started=%+v finished=%+v", started, finished)
	}
}

func TestHydrate_ConcurrentTriggersAreSerialised(t *testing.T) {
	ctx := testContext(t)
	backend := newRecordingBackend()
	backend.getDelay = 10 * time.Millisecond
	backend.seed(t, "app", `{"state":{"count":1},"version":0}`)

	rec := &phaseRecorder{}
	opts := Options[counter, counter]{
		Name:          "app",
		Storage:       storage.NewJSON(storage.Static(storage.Async(backend))),
		SkipHydration: true,
	}
	s, err := New(initCounter(""), opts, WithEventHandler(rec))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Rehydrate().Wait(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.maxActive != 1 {
		t.Fatalf("max overlapping runs = %d, want 1", rec.maxActive)
	}
	if len(rec.hydrations) != 5 {
		t.Fatalf("hydration runs = %d, want 5", len(rec.hydrations))
	}
	seen := map[string]bool{}
	for _, h := range rec.hydrations {
		if seen[h.RunID] {
			t.Fatalf("duplicate run id %s", h.RunID)
		}
		seen[h.RunID] = true
	}
}

func TestHydrate_NoStorageIsNoop(t *testing.T) {
	ctx := testContext(t)
	s, err := New(initCounter("alone"), Options[counter, counter]{Name: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Rehydrate().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if s.HasHydrated() {
		t.Fatal("HasHydrated() = true without storage")
	}
	if s.Get() != (counter{Label: "alone"}) {
		t.Fatalf("state = %+v", s.Get())
	}
}

func TestHydrate_KeepsLiveOnlyFields(t *testing.T) {
	type persisted struct {
		Count int `json:"count"`
	}
	backend := newRecordingBackend()
	backend.seed(t, "app", `{"state":{"count":5},"version":0}`)

	opts := Options[session, persisted]{
		Name:       "app",
		Storage:    storage.NewJSON(storage.Static(backend)),
		Partialize: func(s session) persisted { return persisted{Count: s.Count} },
	}
	s, err := New(func(SetFunc[session], func() session) session {
		return session{Token: "secret", private: 7, OnClose: func() int { return 1 }}
	}, opts)
	if err != nil {
		t.Fatal(err)
	}

	got := s.Get()
	if !s.HasHydrated() {
		t.Fatal("HasHydrated() = false")
	}
	if got.Count != 5 || got.Token != "secret" || got.private != 7 || got.OnClose == nil {
		t.Fatalf("state after hydration = %+v", got)
	}
}
