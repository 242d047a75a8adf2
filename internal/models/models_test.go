// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// =====================================================
// Action Tests
// =====================================================

// TestParseAction verifies accepted spellings and the default.
func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"checkin", ActionCheckin, false},
		{"CHECKOUT", ActionCheckout, false},
		{" checkin ", ActionCheckin, false},
		{"", ActionCheckin, false},
		{"enter", "", true},
	}

	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =====================================================
// ScanEvent Tests
// =====================================================

// TestScanEvent_wireShape verifies the JSON field names sent to the backend.
func TestScanEvent_wireShape(t *testing.T) {
	e := ScanEvent{
		QRToken:    "abc123",
		DayEventID: "7",
		Action:     ActionCheckin,
		DeviceID:   "gate-01",
		TS:         "2024-01-01T10:00:00Z",
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"qr_token":"abc123","day_event_id":"7","action":"checkin","device_id":"gate-01","ts":"2024-01-01T10:00:00Z"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

// TestNewScanEvent verifies defaults and timestamp format.
func TestNewScanEvent(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 123000000, time.FixedZone("BRT", -3*3600))

	e := NewScanEvent("abc123", "7", ActionCheckout, "", now)
	if e.DeviceID != DefaultDeviceID {
		t.Errorf("DeviceID = %q, want %q", e.DeviceID, DefaultDeviceID)
	}
	if e.TS != "2024-01-01T10:00:00.123Z" {
		t.Errorf("TS = %q", e.TS)
	}
	parsed, err := e.Time()
	if err != nil {
		t.Fatalf("Time() error = %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("Time() = %v, want %v", parsed, now)
	}
}

// TestScanEvent_Validate verifies required fields.
func TestScanEvent_Validate(t *testing.T) {
	valid := NewScanEvent("abc", "7", ActionCheckin, "gate-02", time.Now())
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	noToken := valid
	noToken.QRToken = " "
	if noToken.Validate() == nil {
		t.Error("Validate() should reject a blank token")
	}

	noDay := valid
	noDay.DayEventID = ""
	if noDay.Validate() == nil {
		t.Error("Validate() should reject a missing day")
	}

	badAction := valid
	badAction.Action = "enter"
	if badAction.Validate() == nil {
		t.Error("Validate() should reject an unknown action")
	}
}

// TestBulkPayload_wireShape verifies the bulk body wraps items.
func TestBulkPayload_wireShape(t *testing.T) {
	data, _ := json.Marshal(BulkPayload{Items: []ScanEvent{}})
	if string(data) != `{"items":[]}` {
		t.Errorf("Marshal() = %s", data)
	}
}

// =====================================================
// Auth Tests
// =====================================================

// TestLoginRequest_shapes verifies only the chosen identifier is sent.
func TestLoginRequest_shapes(t *testing.T) {
	byUser, _ := json.Marshal(LoginRequest{Username: "ana", Password: "x"})
	if string(byUser) != `{"username":"ana","password":"x"}` {
		t.Errorf("username shape = %s", byUser)
	}
	byEmail, _ := json.Marshal(LoginRequest{Email: "ana", Password: "x"})
	if string(byEmail) != `{"email":"ana","password":"x"}` {
		t.Errorf("email shape = %s", byEmail)
	}
}

// TestTokens_optionalRefresh verifies a refresh response without rotation decodes.
func TestTokens_optionalRefresh(t *testing.T) {
	var tok Tokens
	if err := json.Unmarshal([]byte(`{"access_token":"new"}`), &tok); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if tok.AccessToken != "new" || tok.RefreshToken != "" {
		t.Errorf("Tokens = %+v", tok)
	}
}
