package pump

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/roach88/formsheet/internal/journal"
)

// Group is every submission for one form in a drained batch, in journal
// order.
type Group struct {
	FormID      string
	Submissions []json.RawMessage
}

// Dropped is an event that could not be grouped.
type Dropped struct {
	Position string
	Reason   string
}

var jsonNull = json.RawMessage("null")

// GroupEvents groups events by form id. Groups come out in order of each
// form's first occurrence.
//
// An event carrying a string formId is read as {"formId": "...", "data": ...}
// and data may be any JSON value. Otherwise the form id and submission are
// read from its data member, the CloudEvent-wrapped shape. Events without a
// non-empty string formId are dropped, not retried.
func GroupEvents(events []journal.Event) ([]Group, []Dropped) {
	var (
		groups  []Group
		index   = map[string]int{}
		dropped []Dropped
	)
	for _, ev := range events {
		formID, submission, reason := extract(ev.Event)
		if reason != "" {
			dropped = append(dropped, Dropped{Position: ev.Position, Reason: reason})
			continue
		}
		i, ok := index[formID]
		if !ok {
			i = len(groups)
			index[formID] = i
			groups = append(groups, Group{FormID: formID})
		}
		groups[i].Submissions = append(groups[i].Submissions, submission)
	}
	return groups, dropped
}

func extract(raw json.RawMessage) (formID string, submission json.RawMessage, reason string) {
	if !gjson.ValidBytes(raw) {
		return "", nil, "payload is not valid JSON"
	}
	payload := gjson.ParseBytes(raw)
	src := payload
	if payload.Get("formId").Type != gjson.String {
		if d := payload.Get("data"); d.Exists() && d.Type != gjson.Null {
			src = d
		}
	}
	if !src.IsObject() {
		return "", nil, "payload is not an object"
	}

	id := src.Get("formId")
	if id.Type != gjson.String || id.Str == "" {
		return "", nil, "missing formId"
	}

	data := src.Get("data")
	if !data.Exists() {
		return id.Str, jsonNull, ""
	}
	return id.Str, json.RawMessage(data.Raw), ""
}
