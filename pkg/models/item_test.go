package models

import (
	"encoding/json"
	"testing"
)

func TestWorkItem_JSON(t *testing.T) {
	tests := []struct {
		name string
		item WorkItem
		want string
	}{
		{"numeric", IntItem(105), "105"},
		{"string", StringItem("a1b2-c3"), `"a1b2-c3"`},
		{"numeric-looking string", StringItem("42"), `"42"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.item)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}

			var got WorkItem
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got != tt.item {
				t.Errorf("Unmarshal() = %+v, want %+v", got, tt.item)
			}
		})
	}
}

func TestWorkItem_NullPointer(t *testing.T) {
	var holder struct {
		Key *WorkItem `json:"key"`
	}

	if err := json.Unmarshal([]byte(`{"key":null}`), &holder); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if holder.Key != nil {
		t.Errorf("expected nil key, got %+v", holder.Key)
	}
}

func TestWorkItem_Less(t *testing.T) {
	if !IntItem(9).Less(IntItem(10)) {
		t.Error("expected 9 < 10 for numeric items")
	}
	if !StringItem("10").Less(StringItem("9")) {
		t.Error("expected lexical order for string items")
	}
	if IntItem(10).Less(IntItem(10)) {
		t.Error("an item is not less than itself")
	}
}

func TestWorkItem_UnmarshalInvalid(t *testing.T) {
	var w WorkItem
	if err := json.Unmarshal([]byte(`1.5`), &w); err == nil {
		t.Error("expected error for fractional key")
	}
}
