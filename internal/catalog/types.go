package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedSnapshot is returned when an inbound payload cannot be parsed
// as a snapshot envelope. The caller must reject the payload and mutate
// nothing.
var ErrMalformedSnapshot = errors.New("catalog: malformed snapshot")

// Collection is one sticker-collection record within a snapshot.
// ID is the identity key across snapshots; diffing is never positional.
type Collection struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Creator     *Creator `json:"creator,omitempty"`
	Badges      []string `json:"badges,omitempty"`
	Media       []Media  `json:"media,omitempty"`

	// raw keeps the original item payload so deep equality sees fields the
	// struct does not model.
	raw json.RawMessage
}

type Creator struct {
	Name        string       `json:"name"`
	SocialLinks []SocialLink `json:"social_links,omitempty"`
}

type SocialLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Media struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (c *Collection) UnmarshalJSON(b []byte) error {
	type plain Collection
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Collection(p)
	c.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (c Collection) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	type plain Collection
	return json.Marshal(plain(c))
}

// canonical returns a key-order-independent serialization of the item,
// suitable for byte-wise deep equality.
func (c Collection) canonical() []byte {
	src := c.raw
	if len(src) == 0 {
		type plain Collection
		src, _ = json.Marshal(plain(c))
	}
	return canonicalJSON(src)
}

// DeepEqual compares two items by their full original payloads, not just the
// modeled fields.
func (c Collection) DeepEqual(other Collection) bool {
	return bytes.Equal(c.canonical(), other.canonical())
}

// Logo returns the URL of the item's logo media, if any.
func (c Collection) Logo() (string, bool) {
	for _, m := range c.Media {
		if strings.EqualFold(m.Type, "logo") && m.URL != "" {
			return m.URL, true
		}
	}
	return "", false
}

// Snapshot is one full catalog payload received at a point in time.
// Only Data is diffed structurally; the remaining top-level fields feed the
// generic fallback diff.
type Snapshot struct {
	Data    []Collection
	HasData bool

	// Fields holds every top-level field of the envelope, including "data".
	Fields map[string]json.RawMessage

	payload []byte
}

// ParseSnapshot validates and decodes a raw snapshot payload.
// A payload that is not a JSON object is malformed; an object without a
// well-formed "data" array is accepted but only diffable generically.
func ParseSnapshot(b []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, ErrMalformedSnapshot
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return nil, ErrMalformedSnapshot
	}

	s := &Snapshot{
		Fields:  fields,
		payload: append([]byte(nil), trimmed...),
	}
	if raw, ok := fields["data"]; ok {
		var items []Collection
		if err := json.Unmarshal(raw, &items); err == nil {
			s.Data = items
			s.HasData = true
		}
	}
	return s, nil
}

// Payload returns the original raw payload bytes.
func (s *Snapshot) Payload() []byte { return s.payload }

// Find returns the item with the given id, or nil.
func (s *Snapshot) Find(id int64) *Collection {
	for i := range s.Data {
		if s.Data[i].ID == id {
			return &s.Data[i]
		}
	}
	return nil
}

// Without returns a copy of the snapshot with the given item dropped and the
// envelope rebuilt, so subsequent diffs treat a re-appearing item as added.
// The receiver is left untouched: snapshots already handed to readers stay
// immutable.
func (s *Snapshot) Without(id int64) (*Snapshot, Collection, bool) {
	if !s.HasData {
		return nil, Collection{}, false
	}
	idx := -1
	for i := range s.Data {
		if s.Data[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, Collection{}, false
	}
	removed := s.Data[idx]

	data := make([]Collection, 0, len(s.Data)-1)
	data = append(data, s.Data[:idx]...)
	data = append(data, s.Data[idx+1:]...)

	fields := make(map[string]json.RawMessage, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}

	out := &Snapshot{
		Data:    data,
		HasData: true,
		Fields:  fields,
		payload: s.payload,
	}
	if b, err := json.Marshal(data); err == nil {
		fields["data"] = b
	}
	if b, err := json.Marshal(fields); err == nil {
		out.payload = b
	}
	return out, removed, true
}

// ItemChange pairs the previous and current versions of an updated item.
type ItemChange struct {
	ID  int64
	Old Collection
	New Collection
}

// FieldChange is one entry of the generic fallback diff. Old and New are
// already summarized (composite values by type and size) so rendering stays
// bounded.
type FieldChange struct {
	Key string
	Old string
	New string
}

// ChangeSet is the structured diff between two snapshots.
// Invariant: an item id appears in at most one of Added/Removed/Updated.
type ChangeSet struct {
	Added   []Collection
	Removed []Collection
	Updated []ItemChange

	// Fields is populated instead of the item lists when the diff fell back
	// to the generic field-level comparison.
	Fields  []FieldChange
	Generic bool
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Updated) == 0 && len(cs.Fields) == 0
}

// canonicalJSON re-serializes src so that object keys come out sorted at
// every nesting level. Returns src unchanged when it is not valid JSON.
func canonicalJSON(src []byte) []byte {
	var v any
	if err := json.Unmarshal(src, &v); err != nil {
		return src
	}
	b, err := json.Marshal(v)
	if err != nil {
		return src
	}
	return b
}
