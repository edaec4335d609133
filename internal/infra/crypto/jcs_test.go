package crypto

import (
	"bytes"
	"testing"
)

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"b": 1, "a": {"z": true, "y": null}}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeJSONPreservesArrayOrder(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`[3, 1, 2, {"b": 0, "a": 0}]`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `[3,1,2,{"a":0,"b":0}]`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeJSONNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`1.0`, `1`},
		{`1.500`, `1.5`},
		{`-0.25`, `-0.25`},
		{`1e3`, `1000`},
		{`100000000`, `100000000`},
	}
	for _, tt := range tests {
		got, err := CanonicalizeJSON([]byte(tt.in))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Fatalf("canonicalize %s: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestCanonicalizeJSONDeterministic(t *testing.T) {
	input := []byte(`{"scope":["read","write"],"agent_id":"alice","depth":0}`)
	first, err := CanonicalizeJSON(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := CanonicalizeJSON(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("canonicalization must be deterministic")
	}
}

func TestCanonicalizeJSONRejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestCanonicalizeAnyStruct(t *testing.T) {
	type payload struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	got, err := CanonicalizeAny(payload{B: 2, A: "x"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":"x","b":2}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
