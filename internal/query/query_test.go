package query

import (
	"errors"
	"testing"
)

func TestIdentity_IgnoresKeyOrderAndDescriptionType(t *testing.T) {
	type lookup struct {
		Username string `json:"username"`
		Domain   string `json:"domain"`
	}

	a, err := Identity(map[string]any{"username": "alice", "domain": "x.com"})
	if err != nil {
		t.Fatalf("Identity returned error: %v", err)
	}
	b, err := Identity(map[string]any{"domain": "x.com", "username": "alice"})
	if err != nil {
		t.Fatalf("Identity returned error: %v", err)
	}
	c, err := Identity(lookup{Username: "alice", Domain: "x.com"})
	if err != nil {
		t.Fatalf("Identity returned error: %v", err)
	}
	if a != b || a != c {
		t.Fatalf("identities differ: %q %q %q", a, b, c)
	}
	if want := `{"domain":"x.com","username":"alice"}`; a != want {
		t.Fatalf("Identity = %q, want %q", a, want)
	}
}

func TestIdentity_NestedStructures(t *testing.T) {
	a := MustIdentity(map[string]any{"q": map[string]any{"b": 1, "a": []any{2, "x"}}})
	b := MustIdentity(map[string]any{"q": map[string]any{"a": []any{2, "x"}, "b": 1}})
	if a != b {
		t.Fatalf("nested identities differ: %q vs %q", a, b)
	}
}

func TestIdentity_DistinguishesDifferentQueries(t *testing.T) {
	tests := []struct {
		name string
		a, b any
	}{
		{"different value", Flat{"username": "alice"}, Flat{"username": "bob"}},
		{"different key", Flat{"username": "alice"}, Flat{"user": "alice"}},
		{"string vs number", map[string]any{"id": "1"}, map[string]any{"id": 1}},
		{"extra key", Flat{"a": "1"}, Flat{"a": "1", "b": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if MustIdentity(tt.a) == MustIdentity(tt.b) {
				t.Fatalf("identities collide for %v and %v", tt.a, tt.b)
			}
		})
	}
}

func TestIdentity_RejectsUnmarshalable(t *testing.T) {
	if _, err := Identity(map[string]any{"fn": func() {}}); err == nil {
		t.Fatal("Identity accepted a function value")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("MustIdentity did not panic")
		}
	}()
	MustIdentity(make(chan int))
}

func TestFlat_ValidateAndEncode(t *testing.T) {
	if err := (Flat{}).Validate(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Validate(empty) = %v, want ErrEmpty", err)
	}
	if err := (Flat{" ": "x"}).Validate(); err == nil {
		t.Fatal("Validate accepted a blank key")
	}

	f := Flat{"username": "alice", "domain": "x.com"}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if got, want := f.Encode(), "domain=x.com&username=alice"; got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
	if f.Identity() != MustIdentity(map[string]string{"domain": "x.com", "username": "alice"}) {
		t.Fatal("Flat.Identity disagrees with MustIdentity")
	}
}
