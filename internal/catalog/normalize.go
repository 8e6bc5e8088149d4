package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type rawCard struct {
	Content json.RawMessage `json:"content"`
}

// Normalize converts one raw card into an Event. It never fails the caller:
// a card whose content or id cannot be extracted is reported with ok=false
// and everything else degrades to zero values.
func Normalize(raw RawRecord) (Event, bool) {
	var card rawCard
	if err := json.Unmarshal(raw, &card); err != nil || len(card.Content) == 0 {
		return Event{}, false
	}

	dec := json.NewDecoder(bytes.NewReader(card.Content))
	dec.UseNumber()
	var content map[string]any
	if err := dec.Decode(&content); err != nil || content == nil {
		return Event{}, false
	}

	id := pickID(content["id"])
	if id == "" {
		return Event{}, false
	}

	e := Event{
		ID:            id,
		Name:          pickStr(content, "name"),
		Title:         pickStr(content, "title"),
		Description:   pickStr(content, "description"),
		Format:        pickStr(content, "format"),
		FormatEnglish: pickStr(content, "formatEnglishName"),
		Link:          pickStr(object(content["action"]), "href"),
		Tags:          parseTags(content["filterIds"]),
		Raw:           card.Content,
	}

	if loc := object(content["location"]); loc != nil {
		l := Location{
			Country: pickStr(loc, "country"),
			State:   pickStr(loc, "state"),
			City:    pickStr(loc, "city"),
		}
		if l != (Location{}) {
			e.Location = &l
		}
	}

	dates := object(content["eventDates"])
	if t, err := parseTimeFlexible(pickStr(dates, "startDate")); err == nil {
		e.StartTime = &t
	}
	if t, err := parseTimeFlexible(pickStr(dates, "endDate")); err == nil {
		if e.StartTime == nil || !t.Before(*e.StartTime) {
			e.EndTime = &t
		}
	}

	return e, true
}

// NormalizeAll normalizes a fetched batch in order. Cards without an id are
// dropped and counted. When two cards share an id the last one wins, but it
// takes the slot of the first so fetch order stays stable.
func NormalizeAll(raw []RawRecord) (events []Event, dropped int) {
	events = make([]Event, 0, len(raw))
	pos := make(map[string]int, len(raw))
	for _, r := range raw {
		e, ok := Normalize(r)
		if !ok {
			dropped++
			continue
		}
		if i, seen := pos[e.ID]; seen {
			events[i] = e
			continue
		}
		pos[e.ID] = len(events)
		events = append(events, e)
	}
	return events, dropped
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// pickStr returns the first non-empty string value among keys.
func pickStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func pickID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	}
	return ""
}

// parseTags turns ["topic:ai", "region:europe"] into {topic:[ai], region:[europe]}.
func parseTags(v any) Tags {
	tags := Tags{}
	list, _ := v.([]any)
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		cat, val, ok := strings.Cut(s, ":")
		cat = strings.ToLower(strings.TrimSpace(cat))
		val = strings.ToLower(strings.TrimSpace(val))
		if !ok || cat == "" || val == "" || tags.Has(cat, val) {
			continue
		}
		tags[cat] = append(tags[cat], val)
	}
	for _, vals := range tags {
		sort.Strings(vals)
	}
	return tags
}

// parseTimeFlexible accepts RFC3339 and a few common layouts without zones.
func parseTimeFlexible(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time: %s", s)
}
