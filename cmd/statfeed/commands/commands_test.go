// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/statfeed/statfeed/cmd/statfeed/cli"
	"github.com/statfeed/statfeed/lib/bls"
	"github.com/statfeed/statfeed/lib/config"
	"github.com/statfeed/statfeed/lib/runstore"
	"github.com/statfeed/statfeed/lib/sealed"
	"github.com/statfeed/statfeed/lib/snapshot"
	"github.com/statfeed/statfeed/lib/testutil"
	"github.com/statfeed/statfeed/workflows"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// execute runs the command tree with args and returns what it wrote
// to stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	root := newRoot(streams{stdout: &stdout, stdin: strings.NewReader(stdin)}, func() time.Time { return testNow })
	err := root.Execute(args)
	return stdout.String(), err
}

// writeConfig writes a configuration rooted in a temporary directory,
// followed by extra YAML, and returns its path and the root.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	root := t.TempDir()
	content := fmt.Sprintf("paths:\n  root: %s\nlog:\n  level: error\n%s", root, extra)
	path := filepath.Join(root, "statfeed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func walkCommands(command *cli.Command, path []string, visit func(*cli.Command, []string)) {
	current := append(append([]string(nil), path...), command.Name)
	visit(command, current)
	for _, sub := range command.Subcommands {
		walkCommands(sub, current, visit)
	}
}

func TestCommandTreeIsDocumented(t *testing.T) {
	root := Root()
	walkCommands(root, nil, func(command *cli.Command, path []string) {
		if len(path) == 1 {
			return
		}
		name := strings.Join(path, " ")
		if command.Summary == "" {
			t.Errorf("%s: missing Summary", name)
		}
		if command.Run == nil && len(command.Subcommands) == 0 {
			t.Errorf("%s: neither Run nor Subcommands", name)
		}
		if command.Flags != nil {
			// Binding panics on a malformed params struct.
			command.Flags()
		}
	})
}

func TestVersion(t *testing.T) {
	output, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(output, "statfeed ") {
		t.Errorf("output = %q", output)
	}
}

func TestHelpListsCommands(t *testing.T) {
	output, err := execute(t, "", "--help")
	if err != nil {
		t.Fatalf("--help: %v", err)
	}
	for _, name := range []string{"run", "daemon", "next", "validate", "history", "snapshots", "fetch", "summary", "token", "version"} {
		if !strings.Contains(output, name) {
			t.Errorf("help does not mention %q:\n%s", name, output)
		}
	}
}

func TestNextMonthlySchedule(t *testing.T) {
	output, err := execute(t, "", "next", "--schedule", "0 0 1 * *", "-n", "3")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := "2026-11-01T00:00:00Z\n2026-12-01T00:00:00Z\n2027-01-01T00:00:00Z\n"
	if output != want {
		t.Errorf("output = %q, want %q", output, want)
	}
}

func TestNextUsesWorkflowAndConfigSchedule(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	output, err := execute(t, "", "next", "--config", configPath, "-n", "1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if output != "2026-11-01T00:00:00Z\n" {
		t.Errorf("built-in workflow schedule: output = %q", output)
	}

	configPath, _ = writeConfig(t, "workflow:\n  schedule: \"@daily\"\n")
	output, err = execute(t, "", "next", "--config", configPath, "-n", "1", "--json")
	if err != nil {
		t.Fatalf("next --json: %v", err)
	}
	var times []time.Time
	if err := json.Unmarshal([]byte(output), &times); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if len(times) != 1 || !times[0].Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("times = %v, want [2026-10-19T00:00:00Z]", times)
	}
}

func TestConfigFromEnvironmentVariable(t *testing.T) {
	configPath, _ := writeConfig(t, "workflow:\n  schedule: \"@daily\"\n")
	t.Setenv(config.EnvironmentVariable, configPath)

	output, err := execute(t, "", "next", "-n", "1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if output != "2026-10-19T00:00:00Z\n" {
		t.Errorf("output = %q, want the configured daily schedule", output)
	}

	t.Setenv(config.EnvironmentVariable, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := execute(t, "", "next", "-n", "1"); err == nil {
		t.Error("next ignored an unreadable STATFEED_CONFIG")
	}
}

func TestNextRejectsBadInput(t *testing.T) {
	if _, err := execute(t, "", "next", "--schedule", "61 * * * *"); err == nil {
		t.Error("next accepted an invalid expression")
	}
	if _, err := execute(t, "", "next", "--schedule", "@daily", "-n", "0"); err == nil {
		t.Error("next accepted --count 0")
	}
}

func TestValidateBuiltinWorkflows(t *testing.T) {
	for _, name := range workflows.Names() {
		output, err := execute(t, "", "validate", name)
		if err != nil {
			t.Errorf("validate %s: %v (output %q)", name, err, output)
			continue
		}
		if !strings.Contains(output, "is valid") {
			t.Errorf("validate %s: output = %q", name, output)
		}
	}
}

func TestValidateReportsProblems(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.jsonc")
	writeFile(t, broken, `{
  // no steps and a publish path outside the workspace
  "schedule": "0 0 1 * *",
  "steps": [],
  "publish": {"paths": ["../escape"]}
}`)

	output, err := execute(t, "", "validate", broken)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("err = %v, want ExitError{1}", err)
	}
	if !strings.Contains(output, `workflow "broken" has`) || !strings.Contains(output, "no steps") {
		t.Errorf("output = %q", output)
	}

	unparseable := filepath.Join(dir, "unparseable.jsonc")
	writeFile(t, unparseable, "{")
	output, err = execute(t, "", "validate", unparseable)
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want ExitError", err)
	}
	if !strings.HasPrefix(output, "invalid: ") {
		t.Errorf("output = %q", output)
	}
}

func TestHistory(t *testing.T) {
	configPath, root := writeConfig(t, "")

	output, err := execute(t, "", "history", "--config", configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if output != "no runs recorded\n" {
		t.Errorf("empty history output = %q", output)
	}

	store, err := runstore.Open(filepath.Join(root, "history.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	ok := &runstore.Run{
		ID: "20261001T000000Z-aaaaaa", Workflow: "bls-combined", Trigger: runstore.TriggerSchedule,
		Started: testNow.Add(-48 * time.Hour), Finished: testNow.Add(-48*time.Hour + 90*time.Second),
		Status: runstore.StatusOK, Commit: "0123456789abcdef0123",
		Steps: []runstore.Step{{Index: 0, Name: "fetch", Stage: "data", Status: runstore.StatusOK, Attempts: 1, Duration: 80 * time.Second}},
	}
	failed := &runstore.Run{
		ID: "20261002T000000Z-bbbbbb", Workflow: "bls-combined", Trigger: runstore.TriggerManual,
		Started: testNow.Add(-24 * time.Hour), Finished: testNow.Add(-24*time.Hour + time.Second),
		Status: runstore.StatusFailed, FailedStage: "data", FailedStep: "fetch", Error: "exit code 2",
		Steps: []runstore.Step{{Index: 0, Name: "fetch", Stage: "data", Status: runstore.StatusFailed, Attempts: 3, Error: "exit code 2"}},
	}
	for _, run := range []*runstore.Run{ok, failed} {
		if err := store.Record(context.Background(), run); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	store.Close()

	output, err = execute(t, "", "history", "--config", configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(output, "\n")
	if !strings.HasPrefix(lines[0], "RUN") || !strings.HasPrefix(lines[1], failed.ID) || !strings.HasPrefix(lines[2], ok.ID) {
		t.Errorf("history is not newest first:\n%s", output)
	}
	for _, want := range []string{"data/fetch: exit code 2", "0123456789ab", "1m30s", "last success: " + ok.ID} {
		if !strings.Contains(output, want) {
			t.Errorf("history output missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, "", "history", "--config", configPath, "--limit", "1", "--json")
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var decoded []runstore.Run
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if len(decoded) != 1 || decoded[0].ID != failed.ID {
		t.Errorf("history --limit 1 --json = %+v", decoded)
	}

	output, err = execute(t, "", "history", "--config", configPath, failed.ID)
	if err != nil {
		t.Fatalf("history <id>: %v", err)
	}
	for _, want := range []string{"Status:    failed", "ATTEMPTS", "exit code 2"} {
		if !strings.Contains(output, want) {
			t.Errorf("run detail missing %q:\n%s", want, output)
		}
	}

	if _, err := execute(t, "", "history", "--config", configPath, "no-such-run"); err == nil {
		t.Error("history accepted an unknown run ID")
	}
}

func TestSnapshots(t *testing.T) {
	configPath, root := writeConfig(t, "")
	store, err := snapshot.Open(filepath.Join(root, "snapshots"), snapshot.CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	workspace := t.TempDir()
	content := "seriesID,date,value\nLNS14000000,2026-09-01,4.3\n"
	writeFile(t, filepath.Join(workspace, "data", "bls_cleaned_data.csv"), content)
	manifest, err := store.Put(workspace, []string{"data"}, "20261001T000000Z-aaaaaa", testNow)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	output, err := execute(t, "", "snapshots", "list", "--config", configPath)
	if err != nil {
		t.Fatalf("snapshots list: %v", err)
	}
	if !strings.Contains(output, manifest.ID) || !strings.Contains(output, "20261001T000000Z-aaaaaa") {
		t.Errorf("list output = %q", output)
	}

	output, err = execute(t, "", "snapshots", "cat", "--config", configPath, "latest", "data/bls_cleaned_data.csv")
	if err != nil {
		t.Fatalf("snapshots cat: %v", err)
	}
	if output != content {
		t.Errorf("cat output = %q, want %q", output, content)
	}

	destination := t.TempDir()
	if _, err := execute(t, "", "snapshots", "restore", "--config", configPath, manifest.ID, destination); err != nil {
		t.Fatalf("snapshots restore: %v", err)
	}
	restored, err := os.ReadFile(filepath.Join(destination, "data", "bls_cleaned_data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != content {
		t.Errorf("restored = %q", restored)
	}

	if _, err := execute(t, "", "snapshots", "restore", "--config", configPath, "latest"); err == nil {
		t.Error("restore without a destination succeeded")
	}
}

func TestSnapshotsEmptyStore(t *testing.T) {
	configPath, _ := writeConfig(t, "")
	output, err := execute(t, "", "snapshots", "list", "--config", configPath)
	if err != nil {
		t.Fatalf("snapshots list: %v", err)
	}
	if output != "no snapshots\n" {
		t.Errorf("output = %q", output)
	}
	if _, err := execute(t, "", "snapshots", "cat", "--config", configPath, "latest", "x"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("cat on empty store: err = %v, want ErrNotFound", err)
	}
}

func TestTokenKeygenSealCheck(t *testing.T) {
	dir := t.TempDir()
	identityPath := filepath.Join(dir, "identity.txt")
	sealedPath := filepath.Join(dir, "token.sealed")

	output, err := execute(t, "", "token", "keygen", "--output", identityPath)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	publicKey := strings.TrimSpace(strings.TrimPrefix(output, "public key: "))
	if !strings.HasPrefix(publicKey, "age1") {
		t.Fatalf("keygen output = %q", output)
	}
	info, err := os.Stat(identityPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := execute(t, "", "token", "keygen", "--output", identityPath); err == nil {
		t.Error("keygen overwrote an existing identity")
	}

	if _, err := execute(t, "ghs_example\n", "token", "seal", "-r", publicKey, "-o", sealedPath); err != nil {
		t.Fatalf("seal: %v", err)
	}
	token, err := sealed.ReadToken(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("ReadToken: %v", err)
	}
	if token != "ghs_example" {
		t.Errorf("token = %q", token)
	}

	configPath, _ := writeConfig(t, fmt.Sprintf("auth:\n  sealed_token_file: %s\n  identity_file: %s\n", sealedPath, identityPath))
	output, err = execute(t, "", "token", "check", "--config", configPath)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(output, "sealed file") || !strings.Contains(output, "(11 characters)") {
		t.Errorf("check output = %q", output)
	}
	if strings.Contains(output, "ghs_example") {
		t.Errorf("check printed the token: %q", output)
	}
}

func TestTokenSealRejectsBadInput(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"no recipient", "token\n", nil},
		{"bad recipient", "token\n", []string{"-r", "not-a-key"}},
		{"empty token", "\n", []string{"-r", keypair.PublicKey}},
		{"two lines", "one\ntwo\n", []string{"-r", keypair.PublicKey}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			args := append([]string{"token", "seal"}, test.args...)
			if _, err := execute(t, test.stdin, args...); err == nil {
				t.Error("seal succeeded, want error")
			}
		})
	}
}

func TestRunRequiresConfiguration(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	_, err := execute(t, "", "run")
	if err == nil || !strings.Contains(err.Error(), "STATFEED_CONFIG environment variable not set") {
		t.Errorf("err = %v, want missing configuration", err)
	}
}

func TestRunPublishesAndRecords(t *testing.T) {
	remote := testutil.GitRemote(t, nil)
	dir := t.TempDir()
	workflowPath := filepath.Join(dir, "write.jsonc")
	writeFile(t, workflowPath, `{
  "name": "write",
  "variables": {"ROW_VALUE": {"default": "1"}},
  "steps": [
    {"name": "write", "run": "mkdir -p ${DATA_DIR} && printf 'seriesID,date,value\\nA,2026-09-01,${ROW_VALUE}\\n' > ${DATA_DIR}/out.csv"}
  ],
  "publish": {"paths": ["data"], "on_no_changes": "fail"}
}`)
	configPath, _ := writeConfig(t, fmt.Sprintf(`repository:
  remote: %s
workflow:
  path: %s
  variables:
    ROW_VALUE: "5"
`, remote, workflowPath))

	output, err := execute(t, "", "run", "--config", configPath, "--set", "ROW_VALUE=7")
	if err != nil {
		t.Fatalf("run: %v (output %q)", err, output)
	}
	if !strings.Contains(output, ": published ") {
		t.Errorf("run output = %q", output)
	}
	if content := testutil.Git(t, remote, "show", "main:data/out.csv"); !strings.Contains(content, "A,2026-09-01,7") {
		t.Errorf("published file = %q, want the --set value", content)
	}

	// The same data again has nothing to commit, which this workflow
	// treats as a failure.
	output, err = execute(t, "", "run", "--config", configPath, "--set", "ROW_VALUE=7")
	if err == nil {
		t.Fatal("second run succeeded, want nothing-to-commit failure")
	}
	if !strings.Contains(output, "failed in publish") {
		t.Errorf("second run output = %q", output)
	}
	if count := testutil.CommitCount(t, remote, "main"); count != 2 {
		t.Errorf("remote has %d commits, want 2", count)
	}

	output, err = execute(t, "", "history", "--config", configPath, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var runs []runstore.Run
	if err := json.Unmarshal([]byte(output), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Status != runstore.StatusFailed || runs[1].Status != runstore.StatusOK {
		t.Errorf("recorded runs = %+v", runs)
	}
}

func TestRunRejectsMalformedSet(t *testing.T) {
	configPath, _ := writeConfig(t, "repository:\n  remote: /nonexistent\n")
	_, err := execute(t, "", "run", "--config", configPath, "--set", "NOEQUALS")
	if err == nil || !strings.Contains(err.Error(), "NAME=VALUE") {
		t.Errorf("err = %v, want --set format error", err)
	}
}

func TestSummary(t *testing.T) {
	input := filepath.Join(t.TempDir(), "bls_cleaned_data.csv")
	writeFile(t, input, "seriesID,date,value\n"+
		"CEU0000000001,2024-01-01,158000\n"+
		"CEU0000000001,2024-02-01,158250.5\n"+
		"CEU0000000001,2024-03-01,157900\n"+
		"LNS14000000,2024-01-01,3.7\n"+
		"LNS14000000,2024-02-01,3.9\n"+
		"XYZ,2024-01-01,0\n")

	output, err := execute(t, "", "summary", "-i", input, "--from", "2024-02")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, want := range []string{"SERIES", "CHANGE %", "Total Non-Farm Workers", "157,900", "-350.5", "-0.2%", "158,250.5", "Unemployment Rates"} {
		if !strings.Contains(output, want) {
			t.Errorf("summary output lacks %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "XYZ") {
		t.Errorf("series outside the range listed:\n%s", output)
	}

	output, err = execute(t, "", "summary", "-i", input, "--series", "unemployment rates", "--rows", "--json")
	if err != nil {
		t.Fatalf("summary --rows: %v", err)
	}
	var rows []observationRow
	if err := json.Unmarshal([]byte(output), &rows); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if len(rows) != 2 || rows[0].SeriesID != "LNS14000000" || rows[1].Date != "2024-02-01" || rows[1].Name != "Unemployment Rates" {
		t.Errorf("rows = %+v", rows)
	}

	output, err = execute(t, "", "summary", "-i", input, "--series", "XYZ")
	if err != nil {
		t.Fatalf("summary --series XYZ: %v", err)
	}
	if !strings.Contains(output, "XYZ") || strings.Contains(output, ".0%") {
		t.Errorf("a series starting at zero should have no percentage:\n%s", output)
	}

	output, err = execute(t, "", "summary", "-i", input, "--to", "2023-12")
	if err != nil {
		t.Fatalf("summary --to: %v", err)
	}
	if output != "no observations match\n" {
		t.Errorf("output = %q", output)
	}
}

func TestSummaryRejectsBadInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "data.csv")
	writeFile(t, input, "seriesID,date,value\nA,2024-01-01,1\n")
	for name, args := range map[string][]string{
		"reversed range": {"--from", "2024-03", "--to", "2024-01"},
		"bad month":      {"--from", "March"},
		"missing file":   {"-i", filepath.Join(t.TempDir(), "absent.csv")},
		"extra argument": {"LNS14000000"},
	} {
		if _, err := execute(t, "", append([]string{"summary", "-i", input}, args...)...); err == nil {
			t.Errorf("%s: summary succeeded, want error", name)
		}
	}
}

func TestFetchUpdatesDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			SeriesIDs []string `json:"seriesid"`
			StartYear string   `json:"startyear"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var series []bls.Series
		for _, id := range request.SeriesIDs {
			series = append(series, bls.Series{SeriesID: id, Data: []bls.DataPoint{
				{Year: request.StartYear, Period: "M13", PeriodName: "Annual", Value: "1"},
				{Year: request.StartYear, Period: "M02", PeriodName: "February", Value: "2,500.5"},
			}})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  bls.StatusSucceeded,
			"Results": map[string]any{"series": series},
		})
	}))
	t.Cleanup(server.Close)

	configPath, root := writeConfig(t, fmt.Sprintf("bls:\n  api_url: %s\n  requests_per_second: 1000\n  burst: 10\n", server.URL))
	datasetPath := filepath.Join(root, "out.csv")

	output, err := execute(t, "", "fetch", "--config", configPath, "--series", "AAA,BBB", "--start-year", "2026", "-o", datasetPath)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(output, "2 added, 0 revised, 0 kept, 2 total") {
		t.Errorf("fetch output = %q", output)
	}
	content, err := os.ReadFile(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "seriesID,date,value\nAAA,2026-02-01,2500.5\nBBB,2026-02-01,2500.5\n"
	if string(content) != want {
		t.Errorf("dataset = %q, want %q", content, want)
	}

	rawPath := filepath.Join(root, "raw.csv")
	output, err = execute(t, "", "fetch", "--config", configPath, "--series", "AAA", "--raw",
		"--start-year", "2026", "--end-year", "2026", "-o", rawPath, "--json")
	if err != nil {
		t.Fatalf("fetch --raw: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(output), &summary); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if rows, _ := summary["rows"].(float64); rows != 2 {
		t.Errorf("raw rows = %v, want 2", summary["rows"])
	}
}

func TestDefaultSeriesFromBuiltinWorkflow(t *testing.T) {
	series, err := defaultSeries()
	if err != nil {
		t.Fatalf("defaultSeries: %v", err)
	}
	if ids := bls.ParseSeriesList(series); len(ids) != 6 || ids[1] != "LNS14000000" {
		t.Errorf("default series = %v", ids)
	}
}

func TestOverridesPrecedence(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.Variables = map[string]string{"A": "config", "B": "config"}
	params := workflowParams{Set: []string{"B=flag", "C=x=y"}}
	overrides, err := params.overrides(cfg)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	want := map[string]string{"A": "config", "B": "flag", "C": "x=y"}
	for name, value := range want {
		if overrides[name] != value {
			t.Errorf("%s = %q, want %q", name, overrides[name], value)
		}
	}
	if cfg.Workflow.Variables["B"] != "config" {
		t.Error("overrides modified the configured variables")
	}
}

func TestDescribeRun(t *testing.T) {
	tests := []struct {
		run  runstore.Run
		want string
	}{
		{runstore.Run{ID: "r", Status: runstore.StatusOK, Commit: "abcdef0123456789"}, "run r: published abcdef012345"},
		{runstore.Run{ID: "r", Status: runstore.StatusOK}, "run r: ok"},
		{runstore.Run{ID: "r", Status: runstore.StatusSkipped}, "run r: skipped"},
		{runstore.Run{ID: "r", Status: runstore.StatusFailed, FailedStage: "install"}, "run r: failed in install"},
		{runstore.Run{ID: "r", Status: runstore.StatusFailed, FailedStage: "data", FailedStep: "fetch"}, `run r: failed in data step "fetch"`},
	}
	for index, test := range tests {
		if got := describeRun(&test.run); got != test.want {
			t.Errorf("case %d: describeRun = %q, want %q", index, got, test.want)
		}
	}
}

func TestRunOutcomeTruncatesLongErrors(t *testing.T) {
	run := &runstore.Run{
		Status:      runstore.StatusFailed,
		FailedStage: "data",
		FailedStep:  "fetch",
		Error:       "exit code 1\nTraceback:\n" + strings.Repeat("x", 200),
	}
	detail := runOutcome(run)
	if width := lipgloss.Width(detail.text); width != detailWidth {
		t.Errorf("detail width = %d, want %d", width, detailWidth)
	}
	if !strings.HasPrefix(detail.text, "data/fetch: exit code 1 Traceback: xxx") || !strings.HasSuffix(detail.text, "…") {
		t.Errorf("detail = %q", detail.text)
	}
}

func TestWriteTableAligns(t *testing.T) {
	var buffer bytes.Buffer
	rows := [][]cell{
		{plain("a"), statusCell(runstore.StatusFailed), plain("x")},
		{plain("longer"), statusCell(runstore.StatusOK), plain(strconv.Itoa(7))},
	}
	if err := writeTable(&buffer, []string{"ID", "STATUS", "N"}, rows); err != nil {
		t.Fatal(err)
	}
	want := "ID      STATUS  N\n" +
		"a       failed  x\n" +
		"longer  ok      7\n"
	if buffer.String() != want {
		t.Errorf("table =\n%s\nwant\n%s", buffer.String(), want)
	}
}
