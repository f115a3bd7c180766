package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/testutil"
)

type env struct {
	journal *testutil.JournalServer
	ingress *testutil.IngressServer
	da      *testutil.DAServer
	dir     string
	config  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		journal: testutil.NewJournalServer(t, 2),
		ingress: testutil.NewIngressServer(t),
		da:      testutil.NewDAServer(t, "org", "site"),
		dir:     t.TempDir(),
	}
	e.config = filepath.Join(e.dir, "formsheet.yaml")
	yaml := fmt.Sprintf(`log:
  level: error
journal:
  url: %s
  maxPages: 10
events:
  ingressUrl: %s
  providerId: provider-1
auth:
  token: tok
da:
  baseUrl: %s
  org: org
  site: site
checkpoint:
  backend: sqlite
  path: %s
server:
  addr: 127.0.0.1:0
`, e.journal.URL, e.ingress.URL, e.da.URL, filepath.Join(e.dir, "state.db"))
	require.NoError(t, os.WriteFile(e.config, []byte(yaml), 0o600))
	return e
}

// run executes the root command with args and returns stdout.
func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), stdin, args...)
}

func (e *env) runContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) (CLIResponse, map[string]any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

func TestPump_PublishesAndCommits(t *testing.T) {
	e := newEnv(t)
	e.journal.PublishSubmission("contact", map[string]any{"name": "John"})
	e.journal.PublishSubmission("quote", map[string]any{"amount": "12"})
	e.journal.PublishSubmission("contact", map[string]any{"name": "Jane"})

	out, err := e.run(t, "", "--format", "json", "pump")
	require.NoError(t, err)
	resp, data := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, float64(3), data["eventsRead"])
	assert.Equal(t, float64(2), data["groupsPublished"])
	assert.Equal(t, "pos-3", data["position"])

	published := e.ingress.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeGrouped, published[0].Type)
	var g events.Grouped
	require.NoError(t, json.Unmarshal(published[0].Data, &g))
	assert.Equal(t, "contact", g.FormID)
	assert.Len(t, g.Submissions, 2)

	out, err = e.run(t, "", "cursor", "show")
	require.NoError(t, err)
	assert.Equal(t, "journal_position: pos-3\n", out)

	out, err = e.run(t, "", "pump")
	require.NoError(t, err)
	assert.Contains(t, out, "idle")
	assert.Len(t, e.ingress.Events(), 2)
}

func TestPump_PublishFailureKeepsCursor(t *testing.T) {
	e := newEnv(t)
	e.journal.PublishSubmission("contact", map[string]any{"name": "John"})
	e.ingress.FailWith(500)

	out, err := e.run(t, "", "--format", "json", "pump")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp, _ := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PUBLISH_FAILED", resp.Error.Code)

	out, err = e.run(t, "", "cursor", "show")
	require.NoError(t, err)
	assert.Equal(t, "journal_position: <beginning>\n", out)
}

func TestPump_TextFailureReportsOnStderr(t *testing.T) {
	e := newEnv(t)
	e.journal.PublishSubmission("contact", map[string]any{"name": "John"})
	e.ingress.FailWith(500)

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--config", e.config, "--verbose", "pump"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [PUBLISH_FAILED]:")
	assert.Contains(t, errOut.String(), "  formId: contact\n")
	assert.Contains(t, errOut.String(), "  since: <beginning>\n")
	assert.Contains(t, errOut.String(), "  cause: ")
}

func TestPump_RetentionGap(t *testing.T) {
	e := newEnv(t)
	e.journal.PublishSubmission("contact", nil)
	e.journal.PublishSubmission("contact", nil)
	e.journal.PublishSubmission("contact", nil)
	_, err := e.run(t, "", "cursor", "reset", "pos-1")
	require.NoError(t, err)
	e.journal.ExpireThrough(2)

	out, err := e.run(t, "", "--format", "json", "pump")
	require.Error(t, err)
	resp, _ := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RETENTION_GAP", resp.Error.Code)
	assert.Empty(t, e.ingress.Events())
}

func TestPump_WatchRejectsBadInterval(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "pump", "--watch", "--interval", "0s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPump_WatchStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.journal.PublishSubmission("contact", map[string]any{"name": "John"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := e.runContext(t, ctx, "", "pump", "--watch", "--interval", "50ms")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 events")
	assert.Len(t, e.ingress.Events(), 1, "later cycles are idle")
}

func TestCursor_Reset(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "--format", "json", "cursor", "reset", "pos-9")
	require.NoError(t, err)
	_, data := decodeResponse(t, out)
	assert.Equal(t, "pos-9", data["position"])
	assert.Equal(t, true, data["set"])

	out, err = e.run(t, "", "cursor", "reset")
	require.NoError(t, err)
	assert.Equal(t, "journal_position: <beginning>\n", out)
}

func TestProcess_FromStdin(t *testing.T) {
	e := newEnv(t)
	e.da.Put("/incoming/contact/readme.txt", []byte("x"))
	year := strconv.Itoa(time.Now().UTC().Year())

	out, err := e.run(t, `{"data":{"formId":"contact","submissions":[{"name":"John"},{"name":"Jane"}]}}`, "--format", "json", "process")
	require.NoError(t, err)
	_, data := decodeResponse(t, out)
	assert.Equal(t, "/incoming/contact/"+year+".json", data["path"])
	assert.Equal(t, float64(2), data["appended"])
	assert.Equal(t, false, data["deadletter"])

	raw, ok := e.da.Get("/incoming/contact/" + year + ".json")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"name":"Jane"`)
}

func TestProcess_FromFileToDeadletter(t *testing.T) {
	e := newEnv(t)
	file := filepath.Join(e.dir, "n.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"formId":"unknown","submissions":[{"a":"1"}]}`), 0o600))

	out, err := e.run(t, "", "process", file)
	require.NoError(t, err)
	assert.Contains(t, out, "/incoming/deadletter/unknown/")
	assert.Contains(t, out, "[deadletter]")
}

func TestProcess_InvalidNotification(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, `{"formId":"contact"}`, "--format", "json", "process", "-")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp, _ := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInput, resp.Error.Code)
	assert.Empty(t, e.da.Writes())
}

func TestProcess_WriteFailure(t *testing.T) {
	e := newEnv(t)
	e.da.Put("/incoming/contact/readme.txt", []byte("x"))
	e.da.FailWrites(403)

	_, err := e.run(t, `{"formId":"contact","submissions":[{"name":"John"}]}`, "process")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServe_StopsWhenContextEnds(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.runContext(t, ctx, "", "serve")
	assert.NoError(t, err)
}

func TestConfigErrors(t *testing.T) {
	e := newEnv(t)

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "--config", filepath.Join(e.dir, "missing.yaml"), "cursor", "show"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp, _ := decodeResponse(t, out.String())
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)

	require.NoError(t, os.WriteFile(e.config, []byte("checkpoint:\n  backend: floppy\n"), 0o600))
	_, err = e.run(t, "", "cursor", "show")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
