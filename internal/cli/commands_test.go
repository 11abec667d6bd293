package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/testutil"
)

const sourceYAML = `
source_event_id: 7
source_origin: https://impression.example
reporting_origin: https://report.example
destination_sites: [https://conversion.example]
source_type: navigation
`

const triggerJSON = `{
  "reporting_origin": "https://report.example",
  "destination_origin": "https://conversion.example",
  "event_triggers": [{"trigger_data": 1}]
}`

type cliFixture struct {
	t     *testing.T
	dir   string
	clock *testutil.FakeClock
	opts  *RootOptions
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return &cliFixture{
		t:     t,
		dir:   dir,
		clock: clock,
		opts: &RootOptions{
			Format:   "json",
			Database: filepath.Join(dir, "attribution.db"),
			Clock:    clock,
			Noise:    noise.Fixed{},
		},
	}
}

func (f *cliFixture) writeFile(name, content string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes a command built by newCmd and returns its stdout.
func (f *cliFixture) run(newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	f.t.Helper()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := newCmd(f.opts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func (f *cliFixture) mustRun(newCmd func(*RootOptions) *cobra.Command, args ...string) string {
	f.t.Helper()
	out, err := f.run(newCmd, args...)
	require.NoError(f.t, err, "output: %s", out)
	require.Equal(f.t, "ok", gjson.Get(out, "status").String(), "output: %s", out)
	return out
}

func TestSourceRegisterAndList(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile("source.yaml", sourceYAML)

	out := f.mustRun(NewSourceCommand, "register", path)
	assert.Equal(t, "Success", gjson.Get(out, "data.status").String())
	assert.Equal(t, int64(1), gjson.Get(out, "data.source_id").Int())
	assert.False(t, gjson.Get(out, "data.is_noised").Bool())

	out = f.mustRun(NewSourceCommand, "list")
	assert.Equal(t, int64(1), gjson.Get(out, "data.#").Int())
	assert.Equal(t, int64(7), gjson.Get(out, "data.0.source_event_id").Int())
	assert.Equal(t, "https://report.example", gjson.Get(out, "data.0.reporting_origin").String())
}

func TestSourceRegister_InvalidSource(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile("source.yaml", `
source_origin: https://impression.example
reporting_origin: https://report.example
`)

	out, err := f.run(NewSourceCommand, "register", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "error", gjson.Get(out, "status").String())
	assert.Equal(t, ErrCodeInvalidInput, gjson.Get(out, "error.code").String())
	assert.Equal(t, "INVALID_SOURCE", gjson.Get(out, "error.details").String())
}

func TestSourceRegister_UnknownField(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile("source.yaml", sourceYAML+"destination: https://typo.example\n")

	_, err := f.run(NewSourceCommand, "register", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestSourceRegister_MissingFile(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(NewSourceCommand, "register", filepath.Join(f.dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read input file")
}

func TestTriggerAndReportLifecycle(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(NewSourceCommand, "register", f.writeFile("source.yaml", sourceYAML))

	out := f.mustRun(NewTriggerCommand, f.writeFile("trigger.json", triggerJSON))
	assert.Equal(t, "Success", gjson.Get(out, "data.event_level_status").String())
	assert.Equal(t, "NotRegistered", gjson.Get(out, "data.aggregatable_status").String())
	assert.Equal(t, int64(1), gjson.Get(out, "data.new_event_level_report.event_level.trigger_data").Int())

	out = f.mustRun(NewReportsCommand, "list")
	assert.Equal(t, int64(0), gjson.Get(out, "data.#").Int())

	out = f.mustRun(NewReportsCommand, "next", "--after", "2024-03-01T00:00:00Z")
	next := gjson.Get(out, "data.next").Time()
	assert.Equal(t, time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC), next.UTC())

	out = f.mustRun(NewReportsCommand, "list", "--before", "48h")
	require.Equal(t, int64(1), gjson.Get(out, "data.#").Int())
	assert.Equal(t, "event_level", gjson.Get(out, "data.0.report_type").String())

	out = f.mustRun(NewReportsCommand, "list", "--before", "48h", "--select", "#.report_id")
	assert.Equal(t, "[1]", gjson.Get(out, "data").Raw)

	f.clock.Advance(48 * time.Hour)
	out = f.mustRun(NewReportsCommand, "fail", "1", "--retry-at", "5m")
	assert.Equal(t, int64(1), gjson.Get(out, "data.rescheduled").Int())

	out = f.mustRun(NewReportsCommand, "list")
	assert.Equal(t, int64(0), gjson.Get(out, "data.#").Int())

	f.clock.Advance(5 * time.Minute)
	out = f.mustRun(NewReportsCommand, "list")
	require.Equal(t, int64(1), gjson.Get(out, "data.#").Int())
	assert.Equal(t, int64(1), gjson.Get(out, "data.0.failed_send_attempts").Int())

	f.mustRun(NewReportsCommand, "delete", "1")

	out, err := f.run(NewReportsCommand, "delete", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeNotFound, gjson.Get(out, "error.code").String())
}

func TestReportsDelete_InvalidID(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(NewReportsCommand, "delete", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid report id "abc"`)
}

func TestReportsFail_RequiresRetryAt(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(NewReportsCommand, "fail", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry-at")
}

func TestReportsVerifyAndAdjustOffline_EmptyStore(t *testing.T) {
	f := newCLIFixture(t)

	out := f.mustRun(NewReportsCommand, "verify")
	assert.Equal(t, int64(0), gjson.Get(out, "data.sources").Int())
	assert.Equal(t, int64(0), gjson.Get(out, "data.reports").Int())

	out = f.mustRun(NewReportsCommand, "adjust-offline")
	assert.Equal(t, gjson.Null, gjson.Get(out, "data.next").Type)
}

func TestClearByOriginAndDataKeys(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(NewSourceCommand, "register", f.writeFile("a.yaml", sourceYAML))
	f.mustRun(NewSourceCommand, "register", f.writeFile("b.yaml", `
source_origin: https://impression.example
reporting_origin: https://other-report.example
destination_sites: [https://conversion.example]
`))

	out := f.mustRun(NewDataKeysCommand)
	assert.Equal(t, `["https://other-report.example","https://report.example"]`, gjson.Get(out, "data").Raw)

	out = f.mustRun(NewClearCommand, "--origin", "https://other-report.example", "--rate-limits")
	assert.Equal(t, int64(1), gjson.Get(out, "data.sources").Int())

	out = f.mustRun(NewDataKeysCommand)
	assert.Equal(t, `["https://report.example"]`, gjson.Get(out, "data").Raw)

	out = f.mustRun(NewClearCommand, "--all", "--rate-limits")
	assert.Equal(t, int64(1), gjson.Get(out, "data.sources").Int())

	out = f.mustRun(NewDataKeysCommand)
	assert.Equal(t, `[]`, gjson.Get(out, "data").Raw)
}

func TestClear_InvalidRange(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(NewClearCommand, "--begin", "1h", "--end", "-1h")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--end is before --begin")
}

func TestSourceSweep(t *testing.T) {
	f := newCLIFixture(t)
	f.mustRun(NewSourceCommand, "register", f.writeFile("source.yaml", sourceYAML+"expiry: 24h\n"))

	out := f.mustRun(NewSourceCommand, "sweep")
	assert.Equal(t, int64(0), gjson.Get(out, "data.deleted").Int())

	f.clock.Advance(25 * time.Hour)
	out = f.mustRun(NewSourceCommand, "sweep")
	assert.Equal(t, int64(1), gjson.Get(out, "data.deleted").Int())
}

func TestDebugReport(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile("debug.yaml", `
context_site: https://conversion.example
reporting_origin: https://report.example
contributions:
  - {key: "0x1", value: 60}
`)

	out := f.mustRun(NewDebugReportCommand, path)
	assert.Equal(t, "Success", gjson.Get(out, "data.status").String())
	assert.Equal(t, "0x1", gjson.Get(out, "data.report.contributions.0.key").String())

	out = f.mustRun(NewDebugReportCommand, path, "--source-id", "42")
	assert.Equal(t, "InternalError", gjson.Get(out, "data.status").String())
	assert.Equal(t, int64(0), gjson.Get(out, "data.report.contributions.#").Int())
}

func TestTextOutput(t *testing.T) {
	f := newCLIFixture(t)
	f.opts.Format = "text"
	f.mustRunText(NewSourceCommand, "register", f.writeFile("source.yaml", sourceYAML))

	out := f.mustRunText(NewReportsCommand, "list", "--select", "#")
	assert.Equal(t, "0\n", out)
}

func (f *cliFixture) mustRunText(newCmd func(*RootOptions) *cobra.Command, args ...string) string {
	f.t.Helper()
	out, err := f.run(newCmd, args...)
	require.NoError(f.t, err, "output: %s", out)
	return out
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("rate_limit:\n  max_attributions: 0\n"), 0644))

	_, err := loadConfig(&RootOptions{ConfigFile: cfgPath})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cfg, err := loadConfig(&RootOptions{EnvFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)
	assert.Positive(t, cfg.RateLimit.MaxAttributions)
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	def := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", def, false},
		{"2024-03-02T00:00:00Z", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-02T01:00:00+01:00", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), false},
		{"48h", now.Add(48 * time.Hour), false},
		{"-30m", now.Add(-30 * time.Minute), false},
		{"tomorrow", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in, now, def)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}
