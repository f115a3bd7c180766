// Package emails turns an HTML email template stored next to a sheet into
// a message and hands it to the delivery API.
//
// A template is an ordinary HTML document. Each <p> is one line:
//
//	<p>To: a@example.com, b@example.com</p>
//	<p>cc: c@example.com</p>
//	<p>bcc: d@example.com</p>
//	<p>Subject: New contact request</p>
//	<p>{{message}}</p>
//
// Lines containing {{name}} form the body. {{message}} expands to a table
// of every submitted field; any other name expands to that field's value.
package emails

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/roach88/formsheet/internal/sheet"
)

// Email is the payload accepted by the delivery API.
type Email struct {
	ToEmail []string `json:"toEmail"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	CC      []string `json:"cc"`
	BCC     []string `json:"bcc"`
}

// HTMLFetcher reads an HTML document. ok is false when it does not exist.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, path string) (html string, ok bool, err error)
}

var placeholder = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Resolve fetches the template at path and renders it with vars. ok is
// false when there is no template.
func Resolve(ctx context.Context, f HTMLFetcher, path string, vars sheet.Record) (Email, bool, error) {
	tpl, ok, err := f.FetchHTML(ctx, path)
	if err != nil || !ok {
		return Email{}, false, err
	}
	return Render(tpl, vars), true, nil
}

// Render builds the email described by the template document with vars.
func Render(tpl string, vars sheet.Record) Email {
	email := Email{ToEmail: []string{}, CC: []string{}, BCC: []string{}}

	var body strings.Builder
	body.WriteString("<div>")
	for _, line := range paragraphs(tpl) {
		if placeholder.MatchString(line) {
			renderLine(&body, line, vars)
			continue
		}

		key, value, found := strings.Cut(line, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			continue
		}
		switch key {
		case "to":
			email.ToEmail = splitList(value)
		case "cc":
			email.CC = splitList(value)
		case "bcc":
			email.BCC = splitList(value)
		case "subject":
			email.Subject = value
		}
	}
	body.WriteString("</div>")
	email.HTML = body.String()
	return email
}

func renderLine(b *strings.Builder, line string, vars sheet.Record) {
	name := strings.TrimSpace(strings.NewReplacer("{{", "", "}}", "").Replace(line))
	if name == "message" {
		b.WriteString("<table>")
		for _, k := range vars.Keys() {
			b.WriteString("<tr><td>")
			b.WriteString(html.EscapeString(k))
			b.WriteString("</td><td>")
			b.WriteString(html.EscapeString(vars.Value(k)))
			b.WriteString("</td></tr>")
		}
		b.WriteString("</table>")
		return
	}
	b.WriteString("<p>")
	b.WriteString(html.EscapeString(vars.Value(name)))
	b.WriteString("</p>")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// paragraphs returns the trimmed text of every <p> element in document
// order. Markup nested inside a paragraph contributes its text only.
func paragraphs(doc string) []string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		out   []string
		cur   strings.Builder
		depth int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "p" {
				if depth > 0 {
					// An unclosed <p> ends at the next one.
					out = append(out, strings.TrimSpace(cur.String()))
					cur.Reset()
				}
				depth = 1
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "p" && depth > 0 {
				out = append(out, strings.TrimSpace(cur.String()))
				cur.Reset()
				depth = 0
			}
		case html.TextToken:
			if depth > 0 {
				cur.Write(z.Text())
			}
		}
	}
}
