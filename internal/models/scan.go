// Package models provides data model definitions shared by the gate client.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Action is the direction of a gate pass.
type Action string

const (
	ActionCheckin  Action = "checkin"
	ActionCheckout Action = "checkout"
)

// ParseAction accepts "checkin"/"checkout" in any case. Empty defaults to checkin.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionCheckin, nil
	case ActionCheckin, ActionCheckout:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionCheckin || a == ActionCheckout
}

// DefaultDeviceID tags scans from a station that was never given an id.
const DefaultDeviceID = "gate-01"

// TimestampLayout matches JavaScript's Date.toISOString (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t as the ts field of a scan.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ScanEvent is one check-in or check-out read at a gate. It is also the
// Queue Entry stored in the offline queue, so its JSON shape is the wire shape.
type ScanEvent struct {
	QRToken    string `json:"qr_token"`
	DayEventID string `json:"day_event_id"`
	Action     Action `json:"action"`
	DeviceID   string `json:"device_id"`
	TS         string `json:"ts"`
}

// NewScanEvent builds a ScanEvent stamped with now. An empty deviceID becomes DefaultDeviceID.
func NewScanEvent(token, dayEventID string, action Action, deviceID string, now time.Time) ScanEvent {
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	return ScanEvent{
		QRToken:    token,
		DayEventID: dayEventID,
		Action:     action,
		DeviceID:   deviceID,
		TS:         FormatTimestamp(now),
	}
}

// Validate checks the fields the backend requires.
func (e ScanEvent) Validate() error {
	if strings.TrimSpace(e.QRToken) == "" {
		return fmt.Errorf("qr_token is required")
	}
	if strings.TrimSpace(e.DayEventID) == "" {
		return fmt.Errorf("day_event_id is required")
	}
	if !e.Action.Valid() {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	return nil
}

// Time parses TS. Both the millisecond form and plain RFC 3339 are accepted.
func (e ScanEvent) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.TS)
}

// BulkPayload is the body of a bulk scan upload.
type BulkPayload struct {
	Items []ScanEvent `json:"items"`
}
