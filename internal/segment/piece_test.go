package segment

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestState_JSONKeepsPieces(t *testing.T) {
	seg, _ := newUserSegment(t, nil)
	s := seg.Reduce(nil, seg.Loaded("ok", map[string]any{"email": "a@x.com"}, nil))
	s = seg.Reduce(s, seg.Loaded("bad", nil, errors.New("timeout")))

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	var decoded State
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if decoded.Len() != 2 {
		t.Fatalf("decoded %v", decoded.QueryIDs())
	}
	if p := decoded.Piece("ok"); !p.Loaded || p.Data.(map[string]any)["email"] != "a@x.com" {
		t.Fatalf("loaded piece = %+v", p)
	}
	bad := decoded.Piece("bad")
	if bad.Loaded || bad.Err == nil || bad.Err.Message != "timeout" {
		t.Fatalf("error piece = %+v", bad)
	}
	if bad.Err.Unwrap() != nil {
		t.Fatal("restored error should have no cause")
	}
}

func TestState_NilIsEmpty(t *testing.T) {
	var s *State
	if s.Len() != 0 || s.Piece("x") != nil || s.QueryIDs() != nil {
		t.Fatal("nil state is not empty")
	}
	raw, err := json.Marshal(s)
	if err != nil || string(raw) != "{}" {
		t.Fatalf("Marshal(nil) = %s, %v", raw, err)
	}
}

func TestDecode(t *testing.T) {
	type user struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	direct := &Piece{Loaded: true, Data: user{Username: "alice"}}
	if got, err := Decode[user](direct); err != nil || got.Username != "alice" {
		t.Fatalf("Decode(direct) = %+v, %v", got, err)
	}

	generic := &Piece{Loaded: true, Data: map[string]any{"username": "bob", "email": "b@x.com"}}
	got, err := Decode[user](generic)
	if err != nil || got != (user{Username: "bob", Email: "b@x.com"}) {
		t.Fatalf("Decode(generic) = %+v, %v", got, err)
	}

	if _, err := Decode[user](&Piece{}); err == nil {
		t.Fatal("Decode accepted a pending piece")
	}
	if _, err := Decode[user](&Piece{Loaded: true, Data: "text"}); err == nil {
		t.Fatal("Decode accepted mismatched data")
	}
}
