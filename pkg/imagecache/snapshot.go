package imagecache

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the point-in-time view of all inlineable artifacts handed to
// page renderers
type Snapshot struct {
	APIHandlerPath string  `json:"api_handler_path"`
	Cache          []Entry `json:"cache"`
}

// Entry pairs a Blur key with its inline SVG text. It is serialised as a
// two element array.
type Entry struct {
	Key  Key
	Text string
}

// MarshalJSON encodes the entry as [key, text]
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Key, e.Text})
}

// UnmarshalJSON decodes an entry from [key, text]
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("snapshot entry: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Key); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &e.Text)
}

// Lookup returns the inline text for key if present
func (s *Snapshot) Lookup(key Key) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, e := range s.Cache {
		if e.Key == key {
			return e.Text, true
		}
	}
	return "", false
}
