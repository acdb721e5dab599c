package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/zeebo/xxh3"
)

// RecordStatus is the status persisted with every stored record.
type RecordStatus string

const (
	StatusOK           RecordStatus = "ok"
	StatusPartialError RecordStatus = "partial_error"
	StatusNoData       RecordStatus = "no_data"
)

// Collected reports whether the status counts toward an item-count target.
func (s RecordStatus) Collected() bool {
	return s == StatusOK || s == StatusPartialError
}

// StoredRecord is the document persisted for one WorkItem, keyed by its natural key.
type StoredRecord struct {
	NaturalKey     string                     `json:"_id"`
	Source         string                     `json:"source"`
	Key            WorkItem                   `json:"key"`
	Status         RecordStatus               `json:"status"`
	Payload        map[string]json.RawMessage `json:"payload,omitempty"`
	HTTP           map[string]int             `json:"http,omitempty"`
	Errors         map[string]string          `json:"errors,omitempty"`
	MissingParts   []string                   `json:"missing_parts,omitempty"`
	PayloadHash    string                     `json:"payload_hash"`
	FetchedAt      time.Time                  `json:"fetched_at"`
	FirstFetchedAt time.Time                  `json:"first_fetched_at"`
}

// NaturalKey returns the stable store identifier of an item for a source, e.g. "mal_104".
func NaturalKey(source string, item WorkItem) string {
	return fmt.Sprintf("%s_%s", source, item.Key)
}

// NewRecord builds the stored record of a terminal outcome.
func NewRecord(source string, item WorkItem, outcome FetchOutcome, fetchedAt time.Time) *StoredRecord {
	fetchedAt = fetchedAt.UTC()

	return &StoredRecord{
		NaturalKey:     NaturalKey(source, item),
		Source:         source,
		Key:            item,
		Status:         outcome.Status(),
		Payload:        outcome.Payload,
		HTTP:           outcome.HTTP,
		Errors:         outcome.Errors,
		MissingParts:   outcome.MissingParts,
		PayloadHash:    HashPayload(outcome.Payload),
		FetchedAt:      fetchedAt,
		FirstFetchedAt: fetchedAt,
	}
}

// HashPayload returns a content hash of a payload. Map keys are encoded in
// sorted order so equal payloads always hash equally.
func HashPayload(payload map[string]json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// SameContent reports whether two records carry the same data, ignoring fetch timestamps.
func (r *StoredRecord) SameContent(o *StoredRecord) bool {
	if r == nil || o == nil {
		return r == o
	}

	if r.NaturalKey != o.NaturalKey || r.Source != o.Source || r.Key != o.Key ||
		r.Status != o.Status || r.PayloadHash != o.PayloadHash {
		return false
	}

	if len(r.HTTP) != len(o.HTTP) || len(r.Errors) != len(o.Errors) || len(r.MissingParts) != len(o.MissingParts) {
		return false
	}
	for k, v := range r.HTTP {
		if o.HTTP[k] != v {
			return false
		}
	}
	for k, v := range r.Errors {
		if o.Errors[k] != v {
			return false
		}
	}
	for i := range r.MissingParts {
		if r.MissingParts[i] != o.MissingParts[i] {
			return false
		}
	}

	return true
}

// Clone returns a deep copy of r. Payload parts are shared raw bytes and are
// never mutated, only the maps are copied.
func (r *StoredRecord) Clone() *StoredRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Payload = maps.Clone(r.Payload)
	c.HTTP = maps.Clone(r.HTTP)
	c.Errors = maps.Clone(r.Errors)
	c.MissingParts = slices.Clone(r.MissingParts)

	return &c
}
