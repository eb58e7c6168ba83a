package session_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/promptflux-stt/internal/session"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want session.Command
	}{
		{`{"type":"START","reason":"tap"}`, session.Start{Reason: "tap"}},
		{`{"type":"start","reason":" Wake "}`, session.Start{Reason: "wake"}},
		{`{"type":"START"}`, session.Start{}},
		{`{"type":"STOP","language":"en"}`, session.Stop{Language: "en"}},
		{`{"type":"STOP"}`, session.Stop{}},
		{`{"type":"QUIT"}`, session.Quit{}},
		{"  stop \n", session.Stop{}},
		{"QUIT", session.Quit{}},
		{"start", session.Start{}},
		{`{"type":"PING"}`, session.Unknown{Raw: `{"type":"PING"}`}},
		{`{"type":42}`, session.Unknown{Raw: `{"type":42}`}},
		{`{not json}`, session.Unknown{Raw: `{not json}`}},
		{`{"reason":"tap"}`, session.Unknown{Raw: `{"reason":"tap"}`}},
		{"hello", session.Unknown{Raw: "hello"}},
		{"", session.Unknown{Raw: ""}},
	}
	for _, tt := range tests {
		if got := session.ParseCommand([]byte(tt.raw)); got != tt.want {
			t.Errorf("ParseCommand(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   session.Event
		want string
	}{
		{session.Ready(), `{"type":"READY"}`},
		{session.Result("", 0, 0), `{"type":"RESULT","text":"","meta":{"avg_logprob":0,"duration_ms":0}}`},
		{session.Result("hi", -0.25, 1500*time.Millisecond), `{"type":"RESULT","text":"hi","meta":{"avg_logprob":-0.25,"duration_ms":1500}}`},
		{session.Error(session.CodeNotRecording, "no recording in progress"), `{"type":"ERROR","code":"NOT_RECORDING","message":"no recording in progress"}`},
		{session.Wake("jarvis", "hey jarvis"), `{"type":"WAKE","wake_word":"jarvis","heard":"hey jarvis"}`},
		{session.AutoStop("silence"), `{"type":"AUTO_STOP","reason":"silence"}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.ev)
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", tt.ev, err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal = %s, want %s", b, tt.want)
		}
		var back session.Event
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if back != tt.ev {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", b, back, tt.ev)
		}
	}
}
