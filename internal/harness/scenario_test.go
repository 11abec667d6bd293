package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/event-level-lifecycle.yaml")
	require.NoError(t, err)

	assert.Equal(t, "event-level-lifecycle", s.Name)
	require.Len(t, s.Steps, 7)
	require.NotNil(t, s.Steps[0].Source)
	assert.Equal(t, uint64(1), s.Steps[0].Source.SourceEventID)
	assert.Equal(t, ActionAdvance, s.Steps[3].Action)
	assert.Equal(t, 48*time.Hour, s.Steps[3].By.Std())
	require.NotNil(t, s.Steps[1].Expect)
	assert.Equal(t, "event_level=Success aggregatable=NotRegistered", s.Steps[1].Expect.Status)
	assert.Len(t, s.Assertions, 4)
}

func TestLoadScenario_ConfigOverrides(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/debug-budget.yaml")
	require.NoError(t, err)
	assert.NotZero(t, s.Config.Kind)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: misspelled steps key
step:
  - action: sweep
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{action: sweep}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps: [{action: sweep}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown noise",
			yaml: "name: n\ndescription: d\nnoise: sometimes\nsteps: [{action: sweep}]\n",
			want: "unknown noise",
		},
		{
			name: "unknown action",
			yaml: "name: n\ndescription: d\nsteps: [{action: teleport}]\n",
			want: `unknown action "teleport"`,
		},
		{
			name: "source without body",
			yaml: "name: n\ndescription: d\nsteps: [{action: source}]\n",
			want: "source is required",
		},
		{
			name: "advance without duration",
			yaml: "name: n\ndescription: d\nsteps: [{action: advance}]\n",
			want: "by must be positive",
		},
		{
			name: "fail without report",
			yaml: "name: n\ndescription: d\nsteps: [{action: fail}]\n",
			want: "report_id is required",
		},
		{
			name: "trace_count without count",
			yaml: "name: n\ndescription: d\nsteps: [{action: sweep}]\nassertions: [{type: trace_count, action: sweep}]\n",
			want: "count must be non-negative",
		},
		{
			name: "final_state unknown table",
			yaml: "name: n\ndescription: d\nsteps: [{action: sweep}]\nassertions: [{type: final_state, table: rate_limits, count: 0}]\n",
			want: `unknown table "rate_limits"`,
		},
		{
			name: "final_state without checks",
			yaml: "name: n\ndescription: d\nsteps: [{action: sweep}]\nassertions: [{type: final_state, table: reports}]\n",
			want: "count or expect is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps: [{action: sweep}]\nassertions: [{type: eventually}]\n",
			want: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScenarioFiles_AllParse(t *testing.T) {
	entries, err := os.ReadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := LoadScenario(filepath.Join("testdata/scenarios", e.Name()))
			require.NoError(t, err)
		})
	}
}
