package session

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Command is a parsed inbound client message. The concrete types are
// [Start], [Stop], [Quit] and [Unknown].
type Command interface {
	isCommand()
}

// Start begins a recording. Reason is lowercased and trimmed; "wake" and
// "tap" arm the silence monitor.
type Start struct {
	Reason string
}

// Stop ends the recording and transcribes it. An empty Language selects the
// configured default.
type Stop struct {
	Language string
}

// Quit shuts the service down.
type Quit struct{}

// Unknown is any message that is not a recognised command. Raw holds the
// message as received.
type Unknown struct {
	Raw string
}

func (Start) isCommand()   {}
func (Stop) isCommand()    {}
func (Quit) isCommand()    {}
func (Unknown) isCommand() {}

// ParseCommand decodes one inbound frame. A frame that looks like a JSON
// object is decoded and its "type" field selects the command; anything else
// is a bare command word such as "stop". Malformed JSON and unrecognised
// types yield [Unknown].
func ParseCommand(raw []byte) Command {
	trimmed := bytes.TrimSpace(raw)
	unknown := Unknown{Raw: string(raw)}

	var (
		kind    string
		payload map[string]any
	)
	if bytes.HasPrefix(trimmed, []byte("{")) && bytes.HasSuffix(trimmed, []byte("}")) {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return unknown
		}
		kind = strings.ToUpper(stringField(payload, "type"))
	} else {
		kind = strings.ToUpper(string(trimmed))
	}

	switch kind {
	case "START":
		return Start{Reason: strings.ToLower(strings.TrimSpace(stringField(payload, "reason")))}
	case "STOP":
		return Stop{Language: strings.TrimSpace(stringField(payload, "language"))}
	case "QUIT":
		return Quit{}
	default:
		return unknown
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// EventType names an outbound event.
type EventType string

// Outbound event types.
const (
	EventReady    EventType = "READY"
	EventResult   EventType = "RESULT"
	EventError    EventType = "ERROR"
	EventWake     EventType = "WAKE"
	EventAutoStop EventType = "AUTO_STOP"
)

// ErrorCode classifies an ERROR event.
type ErrorCode string

// Error codes sent to clients.
const (
	CodeTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	CodeNotRecording        ErrorCode = "NOT_RECORDING"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

// ResultMeta carries transcription metadata on a RESULT event.
type ResultMeta struct {
	AvgLogprob float64 `json:"avg_logprob"`
	DurationMs int64   `json:"duration_ms"`
}

// Event is an outbound message. Only the fields belonging to Type are
// encoded.
type Event struct {
	Type EventType

	// RESULT
	Text string
	Meta ResultMeta

	// ERROR
	Code    ErrorCode
	Message string

	// WAKE
	WakeWord string
	Heard    string

	// AUTO_STOP
	Reason string
}

// Ready returns the greeting sent to a newly attached client.
func Ready() Event { return Event{Type: EventReady} }

// Result returns a RESULT event.
func Result(text string, avgLogprob float64, d time.Duration) Event {
	return Event{Type: EventResult, Text: text, Meta: ResultMeta{AvgLogprob: avgLogprob, DurationMs: d.Milliseconds()}}
}

// Error returns an ERROR event.
func Error(code ErrorCode, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}

// Wake returns a WAKE event.
func Wake(wakeWord, heard string) Event {
	return Event{Type: EventWake, WakeWord: wakeWord, Heard: heard}
}

// AutoStop returns an AUTO_STOP event.
func AutoStop(reason string) Event {
	return Event{Type: EventAutoStop, Reason: reason}
}

// MarshalJSON encodes e in its wire shape, e.g.
// {"type":"WAKE","wake_word":"jarvis","heard":"hey jarvis"}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventResult:
		return json.Marshal(struct {
			Type EventType  `json:"type"`
			Text string     `json:"text"`
			Meta ResultMeta `json:"meta"`
		}{e.Type, e.Text, e.Meta})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Code    ErrorCode `json:"code"`
			Message string    `json:"message"`
		}{e.Type, e.Code, e.Message})
	case EventWake:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			WakeWord string    `json:"wake_word"`
			Heard    string    `json:"heard"`
		}{e.Type, e.WakeWord, e.Heard})
	case EventAutoStop:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Reason string    `json:"reason"`
		}{e.Type, e.Reason})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// UnmarshalJSON decodes any outbound event shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type     EventType  `json:"type"`
		Text     string     `json:"text"`
		Meta     ResultMeta `json:"meta"`
		Code     ErrorCode  `json:"code"`
		Message  string     `json:"message"`
		WakeWord string     `json:"wake_word"`
		Heard    string     `json:"heard"`
		Reason   string     `json:"reason"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event(wire)
	return nil
}
