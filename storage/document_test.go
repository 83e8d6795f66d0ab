package storage

import (
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncodeDecode(t *testing.T) {
	doc, err := Encode(sample{Name: "root", Count: 3}, 7)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if doc.Version != 7 {
		t.Errorf("expected version 7, got %d", doc.Version)
	}

	var got sample
	if err := doc.Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Name != "root" || got.Count != 3 {
		t.Errorf("unexpected decoded value: %+v", got)
	}

	t.Run("empty payload", func(t *testing.T) {
		var v sample
		if err := (&Document{}).Decode(&v); err == nil {
			t.Error("expected error decoding empty document")
		}
	})

	t.Run("clone isolation", func(t *testing.T) {
		c := doc.Clone()
		c.Data[0] = 'X'
		if doc.Data[0] == 'X' {
			t.Error("Clone should copy the payload")
		}
	})
}
