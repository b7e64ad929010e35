package checks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunAllPass(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"true", "exit 0"}, time.Second)
	require.True(t, report.Passed)
	require.Len(t, report.Results, 2)
}

func TestRunRecordsFailureButContinues(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"exit 1", "true"}, time.Second)
	require.False(t, report.Passed)
	require.Len(t, report.Results, 2)
	require.Equal(t, 1, report.Results[0].ExitCode)
	require.Equal(t, 0, report.Results[1].ExitCode)
}

func TestFindingsFromReport(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"exit 3"}, time.Second)
	findings := FindingsFromReport(report)
	require.Len(t, findings, 1)
	require.Contains(t, findings[0], "exit 3")
	require.Contains(t, findings[0], "3")
}

func TestResolvePrefersCLIOverConfig(t *testing.T) {
	cfg, err := Resolve([]string{"cli-cmd"}, []string{"config-cmd"})
	require.NoError(t, err)
	require.Equal(t, "cli", cfg.Source)
	require.Equal(t, []string{"cli-cmd"}, cfg.Commands)
}

func TestResolveFallsBackToConfig(t *testing.T) {
	cfg, err := Resolve(nil, []string{"config-cmd"})
	require.NoError(t, err)
	require.Equal(t, "config_file", cfg.Source)
}

func TestResolveErrorsWhenNeitherSet(t *testing.T) {
	_, err := Resolve(nil, nil)
	require.ErrorIs(t, err, ErrNoChecksConfigured)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.json")
	cfg := Config{Version: 1, Source: "cli", Commands: []string{"true"}}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, *loaded)
}
