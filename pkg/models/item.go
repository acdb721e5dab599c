package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// WorkItem identifies one unit of crawl: a numeric ID for dense ranges or an
// opaque string key (slug, UUID) for store-backed sources. It is immutable.
type WorkItem struct {
	Key     string // Key is the canonical string form, used in natural keys
	ID      int64  // ID is the numeric value when Numeric is true
	Numeric bool   // Numeric is true for items produced by a dense range
}

// IntItem returns a numeric work item.
func IntItem(id int64) WorkItem {
	return WorkItem{
		Key:     strconv.FormatInt(id, 10),
		ID:      id,
		Numeric: true,
	}
}

// StringItem returns an opaque string work item.
func StringItem(key string) WorkItem {
	return WorkItem{Key: key}
}

func (w WorkItem) String() string {
	return w.Key
}

// IsZero reports whether w is the zero value.
func (w WorkItem) IsZero() bool {
	return w.Key == "" && !w.Numeric
}

// Less reports whether w comes before o in enumeration order: numerically for
// dense ranges, lexically otherwise.
func (w WorkItem) Less(o WorkItem) bool {
	if w.Numeric && o.Numeric {
		return w.ID < o.ID
	}
	return w.Key < o.Key
}

// MarshalJSON encodes numeric items as bare numbers and string items as strings.
func (w WorkItem) MarshalJSON() ([]byte, error) {
	if w.Numeric {
		return []byte(strconv.FormatInt(w.ID, 10)), nil
	}
	return json.Marshal(w.Key)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (w *WorkItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty work item")
	}

	if data[0] == '"' {
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			return err
		}
		*w = StringItem(key)
		return nil
	}

	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid work item %s: %w", data, err)
	}
	*w = IntItem(id)
	return nil
}
