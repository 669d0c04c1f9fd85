package storage

import (
	"strings"
	"testing"
)

func TestParseEventLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantTyp string
	}{
		{
			name:    "valid chat event",
			line:    `{"v":1,"ts":"2026-07-30T10:00:00","type":"chat","author":"alice","text":"hi"}`,
			wantOK:  true,
			wantTyp: "chat",
		},
		{
			name:   "unknown type rejected",
			line:   `{"v":1,"type":"ping","author":"alice","text":"hi"}`,
			wantOK: false,
		},
		{
			name:   "missing author rejected",
			line:   `{"v":1,"type":"chat","text":"hi"}`,
			wantOK: false,
		},
		{
			name:   "future schema version rejected",
			line:   `{"v":99,"type":"chat","author":"alice","text":"hi"}`,
			wantOK: false,
		},
		{
			name:   "malformed json rejected",
			line:   `{"v":1,"type":"chat"`,
			wantOK: false,
		},
		{
			name:    "missing ts backfilled",
			line:    `{"v":1,"type":"system","author":"sys","text":"joined"}`,
			wantOK:  true,
			wantTyp: "system",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := ParseEventLine([]byte(tc.line))
			if ok != tc.wantOK {
				t.Fatalf("ParseEventLine() ok = %v, want %v", ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if ev.Type != tc.wantTyp {
				t.Errorf("Type = %q, want %q", ev.Type, tc.wantTyp)
			}
			if ev.TS == "" {
				t.Error("TS should be backfilled, got empty")
			}
		})
	}
}

func TestParseEventLinePreservesUnknownFields(t *testing.T) {
	line := `{"v":1,"type":"chat","author":"alice","text":"hi","future_field":"xyz"}`
	ev, ok := ParseEventLine([]byte(line))
	if !ok {
		t.Fatal("expected parse success")
	}
	if ev.Extra == nil {
		t.Fatal("expected unknown field preserved in Extra")
	}
	if _, ok := ev.Extra["future_field"]; !ok {
		t.Error("future_field not preserved")
	}

	out, err := EncodeASCII(*ev)
	if err != nil {
		t.Fatalf("EncodeASCII() error = %v", err)
	}
	if !strings.Contains(string(out), "future_field") {
		t.Error("re-encoded line dropped unknown field")
	}
}

func TestEncodeASCIIEscapesNonASCII(t *testing.T) {
	ev := Event{V: 1, TS: "2026-07-30T10:00:00", Type: "chat", Author: "alice", Text: "café \U0001F600"}
	out, err := EncodeASCII(ev)
	if err != nil {
		t.Fatalf("EncodeASCII() error = %v", err)
	}
	for _, b := range out {
		if b >= 0x80 {
			t.Fatalf("output contains non-ASCII byte 0x%x: %s", b, out)
		}
	}
	if !strings.Contains(string(out), "\\u00e9") {
		t.Errorf("expected \\u00e9 escape for accented char, got %s", out)
	}
	if !strings.Contains(string(out), "\\ud83d\\ude00") {
		t.Errorf("expected surrogate pair escape for emoji, got %s", out)
	}
}

func TestEncodeASCIIBackfillsVersionAndTimestamp(t *testing.T) {
	ev := Event{Type: "chat", Author: "alice", Text: "hi"}
	out, err := EncodeASCII(ev)
	if err != nil {
		t.Fatalf("EncodeASCII() error = %v", err)
	}
	parsed, ok := ParseEventLine(out)
	if !ok {
		t.Fatal("re-parse of encoded event failed")
	}
	if parsed.V != SchemaVersion {
		t.Errorf("V = %d, want %d", parsed.V, SchemaVersion)
	}
	if parsed.TS == "" {
		t.Error("TS should be backfilled")
	}
}
