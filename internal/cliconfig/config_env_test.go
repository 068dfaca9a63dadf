package cliconfig

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"STATESYNC_BACKEND":   "sqlite",
				"STATESYNC_DIR":       "/env/dir",
				"STATESYNC_DSN":       "/env/db.sqlite",
				"STATESYNC_TABLE":     "items",
				"STATESYNC_NAME":      "settings",
				"STATESYNC_VERSION":   "4",
				"STATESYNC_LOG_LEVEL": "debug",
				"STATESYNC_DEBOUNCE":  "250ms",
				"STATESYNC_ASYNC":     "true",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Backend:  "sqlite",
				Dir:      "/env/dir",
				DSN:      "/env/db.sqlite",
				Table:    "items",
				Name:     "settings",
				Version:  4,
				LogLevel: "debug",
				Debounce: 250 * time.Millisecond,
				Async:    true,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"STATESYNC_NAME":    "from-env",
				"STATESYNC_VERSION": "2",
			},
			changed:  map[string]bool{"name": true, "state-version": true},
			initial:  Config{Name: "from-flag", Version: 1},
			expected: Config{Name: "from-flag", Version: 1},
		},
		{
			name:     "returns error for invalid duration",
			envVars:  map[string]string{"STATESYNC_DEBOUNCE": "soon"},
			changed:  map[string]bool{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name:     "returns error for invalid int",
			envVars:  map[string]string{"STATESYNC_VERSION": "two"},
			changed:  map[string]bool{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name:     "handles bool '1' as true",
			envVars:  map[string]string{"STATESYNC_ASYNC": "1"},
			changed:  map[string]bool{},
			expected: Config{Async: true},
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"STATESYNC_ASYNC": "false"},
			changed:  map[string]bool{},
			initial:  Config{Async: true},
			expected: Config{Async: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
