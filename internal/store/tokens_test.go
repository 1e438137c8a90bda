package store

import "testing"

func TestTokenSet_Membership(t *testing.T) {
	set := NewTokenSet()

	if set.Contains("tok-1") {
		t.Error("Contains() = true for token never added")
	}

	set.Add("tok-1", "tok-2")

	if !set.Contains("tok-1") {
		t.Error("Contains(tok-1) = false after Add")
	}
	if !set.Contains("tok-2") {
		t.Error("Contains(tok-2) = false after Add")
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}
}

func TestTokenSet_EmptyTokenNeverValid(t *testing.T) {
	set := NewTokenSet()
	set.Add("")

	if set.Contains("") {
		t.Error("Contains(\"\") = true, empty token must never be valid")
	}
	if set.Len() != 0 {
		t.Errorf("Len() = %d, want 0", set.Len())
	}
}
