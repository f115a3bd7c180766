package processor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/formsheet/internal/auth"
	"github.com/roach88/formsheet/internal/da"
	"github.com/roach88/formsheet/internal/emails"
	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/sheet"
	"github.com/roach88/formsheet/internal/store"
	"github.com/roach88/formsheet/internal/testutil"
)

var processingTime = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type mailbox struct {
	mu   sync.Mutex
	sent []emails.Email
	err  error
}

func (m *mailbox) Send(_ context.Context, e emails.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

type fixture struct {
	da     *testutil.DAServer
	client *da.Client
	mail   *mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := testutil.NewDAServer(t, "org", "site")
	c, err := da.NewClient(da.Config{BaseURL: srv.URL, Org: "org", Site: "site", Tokens: auth.Static("tok")})
	require.NoError(t, err)
	return &fixture{da: srv, client: c, mail: &mailbox{}}
}

func (f *fixture) processor(opts ...func(*Config)) *Processor {
	cfg := Config{
		Sheets: f.client,
		Mailer: f.mail,
		Now:    testutil.NewFixedClock(processingTime).Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func (f *fixture) sheet(t *testing.T, p string) *sheet.Sequence {
	t.Helper()
	raw, ok := f.da.Get(p)
	require.True(t, ok, "%s was not written", p)
	doc, err := sheet.Decode(raw)
	require.NoError(t, err)
	seq, ok := doc.Lookup(sheet.DefaultSheet)
	require.True(t, ok)
	return seq
}

func grouped(formID string, subs ...string) events.Grouped {
	n := events.Grouped{FormID: formID}
	for _, s := range subs {
		n.Submissions = append(n.Submissions, json.RawMessage(s))
	}
	return n
}

func TestProcess_AppendsToExistingYearSheet(t *testing.T) {
	f := newFixture(t)
	existing, _ := sheet.Append(sheet.NewDocument(), sheet.NewRecord("timestamp", "t0", "IP", "1.1.1.1", "name", "Old"), "")
	body, err := sheet.Encode(existing)
	require.NoError(t, err)
	f.da.Put("/incoming/contact/2025.json", body)

	out, err := f.processor().Process(context.Background(), grouped("contact",
		`{"name":"John","email":"john@test.com"}`,
		`{"name":"Jane","timestamp":"2025-01-01T00:00:00.000Z"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, Outcome{FormID: "contact", Path: "/incoming/contact/2025.json", Appended: 2, Total: 3}, out)

	seq := f.sheet(t, "/incoming/contact/2025.json")
	require.Len(t, seq.Data, 3)
	assert.Equal(t, "Old", seq.Data[0].Value("name"))
	assert.Equal(t, []string{"timestamp", "IP", "name", "email", "formId"}, seq.Data[0].Keys(), "header grew")

	john := seq.Data[1]
	assert.Equal(t, "John", john.Value("name"))
	assert.Equal(t, "contact", john.Value("formId"))
	assert.Equal(t, "2025-03-14T09:26:53.589Z", john.Value("timestamp"))
	assert.Equal(t, "2025-01-01T00:00:00.000Z", seq.Data[2].Value("timestamp"), "submitted timestamp wins")
	assert.Equal(t, []string{"/incoming/contact/2025.json"}, f.da.Writes())
}

func TestProcess_StartsNewYearSheet(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/incoming/contact/2024.json", []byte(`{"data":[]}`))

	out, err := f.processor().Process(context.Background(), grouped("contact", `{"name":"John"}`))
	require.NoError(t, err)
	assert.False(t, out.Deadletter)
	assert.Equal(t, 1, out.Total)

	seq := f.sheet(t, "/incoming/contact/2025.json")
	require.Len(t, seq.Data, 1)
	assert.Equal(t, "John", seq.Data[0].Value("name"))
}

func TestProcess_Deadletter(t *testing.T) {
	f := newFixture(t)

	out, err := f.processor().Process(context.Background(), grouped("unknown/form", `{"x":"1"}`))
	require.NoError(t, err)
	assert.True(t, out.Deadletter)
	assert.Equal(t, "/incoming/deadletter/unknown/form/2025.json", out.Path)

	seq := f.sheet(t, out.Path)
	require.Len(t, seq.Data, 1)
	assert.Equal(t, "1", seq.Data[0].Value("x"))
	assert.Equal(t, "unknown/form", seq.Data[0].Value("formId"))

	// The deadletter sheet now exists and is appended to next time.
	_, err = f.processor().Process(context.Background(), grouped("unknown/form", `{"x":"2"}`))
	require.NoError(t, err)
	assert.Len(t, f.sheet(t, out.Path).Data, 2)
}

func TestProcess_CustomRoot(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/forms/contact/readme.txt", []byte("x"))

	p := f.processor(func(c *Config) { c.IncomingRoot = "forms/" })
	out, err := p.Process(context.Background(), grouped("contact", `{"a":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "/forms/contact/2025.json", out.Path)
}

func TestProcess_ValueConversion(t *testing.T) {
	rec := Record("f", json.RawMessage(`{"n":42,"ok":true,"none":null,"nested":{"a":[1,2]},"formId":"spoofed"}`), "now")
	assert.Equal(t, []string{"n", "ok", "none", "nested", "formId", "timestamp"}, rec.Keys())
	assert.Equal(t, "42", rec.Value("n"))
	assert.Equal(t, "true", rec.Value("ok"))
	assert.Equal(t, "", rec.Value("none"))
	assert.Equal(t, `{"a":[1,2]}`, rec.Value("nested"))
	assert.Equal(t, "f", rec.Value("formId"))
	assert.Equal(t, "now", rec.Value("timestamp"))

	rec = Record("f", json.RawMessage(`"not an object"`), "now")
	assert.Equal(t, []string{"formId", "timestamp"}, rec.Keys())
}

func TestProcess_NormalizesColumnNames(t *testing.T) {
	f := newFixture(t)

	out, err := f.processor().Process(context.Background(), grouped("contact",
		`{"caf\u00e9":"composed"}`,
		`{"cafe\u0301":"decomposed"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)

	seq := f.sheet(t, "/incoming/contact/2025.json")
	require.Len(t, seq.Data, 2)
	assert.Equal(t, []string{"timestamp", "IP", "caf\u00e9", "formId"}, seq.Data[0].Keys())
	assert.Equal(t, "composed", seq.Data[0].Value("caf\u00e9"))
	assert.Equal(t, "decomposed", seq.Data[1].Value("caf\u00e9"))
}

func TestProcess_Email(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/incoming/contact/email-template.html",
		[]byte(`<body><p>To: team@example.com</p><p>Subject: New contact</p><p>{{name}}</p></body>`))

	out, err := f.processor().Process(context.Background(), grouped("contact", `{"name":"John"}`, `{"name":"Jane"}`))
	require.NoError(t, err)
	assert.True(t, out.Emailed)

	require.Len(t, f.mail.sent, 1)
	sent := f.mail.sent[0]
	assert.Equal(t, []string{"team@example.com"}, sent.ToEmail)
	assert.Equal(t, "New contact", sent.Subject)
	assert.Contains(t, sent.HTML, "<p>Jane</p>", "rendered with the last submission")
}

func TestProcess_EmailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/incoming/contact/email-template.html", []byte(`<p>To: a@b.c</p><p>{{message}}</p>`))
	f.mail.err = errors.New("smtp down")

	out, err := f.processor().Process(context.Background(), grouped("contact", `{"name":"John"}`))
	require.NoError(t, err)
	assert.False(t, out.Emailed)
	assert.Len(t, f.sheet(t, out.Path).Data, 1, "sheet written before the email attempt")
}

func TestProcess_WriteFailure(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/incoming/contact/2024.json", []byte(`{}`))
	f.da.FailWrites(500)

	_, err := f.processor().Process(context.Background(), grouped("contact", `{"a":"b"}`))
	var se *da.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.Status)
}

func TestProcess_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.da.FailReads(503)

	_, err := f.processor().Process(context.Background(), grouped("contact", `{"a":"b"}`))
	require.Error(t, err)
	assert.Empty(t, f.da.Writes())
}

func TestProcess_Ledger(t *testing.T) {
	f := newFixture(t)
	f.da.Put("/incoming/contact/2024.json", []byte(`{}`))
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	p := f.processor(func(c *Config) { c.Ledger = ledger })
	ctx := context.Background()

	out, err := p.Process(ctx, grouped("contact", `{"name":"John"}`, `{"name":"John"}`, `{"name":"Jane"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Appended)
	assert.Equal(t, 1, out.Skipped, "repeat within the batch")

	// A redrained batch re-delivers John and Jane plus a new submission.
	out, err = p.Process(ctx, grouped("contact", `{ "name" : "Jane" }`, `{"name":"John"}`, `{"name":"Max"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Appended)
	assert.Equal(t, 2, out.Skipped)

	seq := f.sheet(t, out.Path)
	var names []string
	for _, r := range seq.Data {
		names = append(names, r.Value("name"))
	}
	assert.Equal(t, []string{"John", "Jane", "Max"}, names)

	n, err := ledger.CountMerged(ctx, "contact")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Nothing new: no write at all.
	writes := len(f.da.Writes())
	out, err = p.Process(ctx, grouped("contact", `{"name":"Max"}`))
	require.NoError(t, err)
	assert.Zero(t, out.Appended)
	assert.Len(t, f.da.Writes(), writes)
}

// staleStore returns the first fetched snapshot for every later fetch,
// as two overlapping processors would see it.
type staleStore struct {
	*da.Client
	mu       sync.Mutex
	snapshot *sheet.Document
}

func (s *staleStore) Fetch(ctx context.Context, p string) (sheet.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return *s.snapshot, nil
	}
	doc, err := s.Client.Fetch(ctx, p)
	if err != nil {
		return doc, err
	}
	s.snapshot = &doc
	return doc, nil
}

func TestProcess_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	seed, _ := sheet.Append(sheet.NewDocument(), sheet.NewRecord("name", "Seed"), "")
	body, err := sheet.Encode(seed)
	require.NoError(t, err)
	f.da.Put("/incoming/contact/2025.json", body)

	p := f.processor(func(c *Config) { c.Sheets = &staleStore{Client: f.client} })
	ctx := context.Background()
	_, err = p.Process(ctx, grouped("contact", `{"name":"A"}`))
	require.NoError(t, err)
	_, err = p.Process(ctx, grouped("contact", `{"name":"B"}`))
	require.NoError(t, err)

	seq := f.sheet(t, "/incoming/contact/2025.json")
	var names []string
	for _, r := range seq.Data {
		names = append(names, r.Value("name"))
	}
	assert.Equal(t, []string{"Seed", "B"}, names, "A's update is lost")
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"formId":"contact","submissions":[{"a":"1"},{"a":"2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "contact", n.FormID)
	require.Len(t, n.Submissions, 2)
	assert.JSONEq(t, `{"a":"2"}`, string(n.Submissions[1]))

	n, err = ParseNotification([]byte(`{"type":"form.grouped","data":{"formId":"x","submissions":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "x", n.FormID)
	assert.Empty(t, n.Submissions)

	for _, bad := range []string{
		`{"submissions":[]}`,
		`{"formId":"x"}`,
		`{"formId":"x","submissions":{}}`,
		`{"formId":7,"submissions":[]}`,
		`{"formId":`,
	} {
		_, err := ParseNotification([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidNotification, bad)
	}
}
