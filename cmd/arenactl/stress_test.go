package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfiles = `
profiles:
  - name: tiny-storm
    kind: fragmentation
    iterations: 1
    children: 2
    handles: 20
  - name: tiny-loop
    kind: event-loop
    iterations: 4
    handles: 5
    reset_every: 2
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0o600))
	return path
}

func TestStressCommand(t *testing.T) {
	profiles := writeProfiles(t)

	tests := []struct {
		name        string
		args        []string
		file        string
		list        bool
		scale       float64
		json        bool
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "list builtins",
			list:        true,
			wantContain: []string{"fragmentation-storm", "event-loop-reset", "concurrent-multi-arena", "recursive-tree-walk"},
		},
		{
			name:        "list file as JSON",
			file:        profiles,
			list:        true,
			json:        true,
			wantContain: []string{`"name": "tiny-storm"`, `"kind": "event-loop"`},
		},
		{
			name:        "run builtin",
			args:        []string{"recursive-tree-walk"},
			wantContain: []string{"PROFILE", "recursive-tree-walk"},
		},
		{
			name:        "run scaled builtin",
			args:        []string{"event-loop-reset", "web-server"},
			scale:       0.5,
			wantContain: []string{"event-loop-reset", "web-server"},
		},
		{
			name:        "run file",
			file:        profiles,
			json:        true,
			wantContain: []string{`"profile": "tiny-storm"`, `"profile": "tiny-loop"`},
		},
		{
			name:        "builtin next to file",
			args:        []string{"tiny-loop", "mixed-scope-modes"},
			file:        profiles,
			wantContain: []string{"tiny-loop", "mixed-scope-modes"},
		},
		{
			name:    "unknown profile",
			args:    []string{"does-not-exist"},
			wantErr: true,
		},
		{
			name:    "missing file",
			file:    filepath.Join(t.TempDir(), "missing.yaml"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			stressFile = tt.file
			stressList = tt.list
			jsonOut = tt.json
			if tt.scale != 0 {
				stressScale = tt.scale
			}

			output, err := captureOutput(t, func() error {
				return runStress(context.Background(), tt.args)
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			if tt.json {
				assertJSON(t, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}

func TestStressCommand_Quiet(t *testing.T) {
	resetFlags()
	quiet = true

	output, err := captureOutput(t, func() error {
		return runStress(context.Background(), []string{"recursive-tree-walk"})
	})
	require.NoError(t, err)
	assert.Empty(t, output)
}
