// Package uuid tests for request and device id generation.
package uuid

import (
	"regexp"
	"strings"
	"testing"
)

// TestNewRequestID verifies request ids are v4 and unique.
func TestNewRequestID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if !IsValid(id) {
			t.Fatalf("NewRequestID() = %q is not a v4 UUID", id)
		}
		if ids[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		ids[id] = true
	}
}

// TestNewDeviceID verifies the short station id format.
func TestNewDeviceID(t *testing.T) {
	re := regexp.MustCompile(`^gate-[0-9a-f]{8}$`)
	id := NewDeviceID()
	if !re.MatchString(id) {
		t.Errorf("NewDeviceID() = %q", id)
	}
}

// TestIsValid covers accepted and rejected shapes.
func TestIsValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{New(), true},
		{strings.ToUpper(New()), true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550e8400-e29b-11d4-a716-446655440000", false}, // v1
		{"550e8400-e29b-41d4-c716-446655440000", false}, // wrong variant
		{"550e8400e29b41d4a716446655440000", false},
		{"{550e8400-e29b-41d4-a716-446655440000}", false},
		{"", false},
		{"not-a-uuid", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.in); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestValidate verifies the error carries the input.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
	err := Validate("bad")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("Validate(bad) = %v", err)
	}
}
