package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/promptflux-stt/internal/mcp"
	"github.com/MrWong99/promptflux-stt/internal/session"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/audio/mock"
)

type fakeStatus struct {
	st  session.Status
	err error
}

func (f fakeStatus) Snapshot(context.Context) (session.Status, error) { return f.st, f.err }

func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.SDK().Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	cs, err := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0"}, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcpsdk.ClientSession, name string) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func decodeText(t *testing.T, res *mcpsdk.CallToolResult, v any) {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("content[0] = %T, want *TextContent", res.Content[0])
	}
	if err := json.Unmarshal([]byte(tc.Text), v); err != nil {
		t.Fatalf("decode %q: %v", tc.Text, err)
	}
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.NewServer(fakeStatus{}, &mock.Backend{}))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"status", "list_devices"} {
		if !got[want] {
			t.Errorf("tool %q not listed; got %v", want, got)
		}
	}
}

func TestServer_Status(t *testing.T) {
	t.Parallel()
	wake := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := fakeStatus{st: session.Status{
		State:       session.Recording,
		Clients:     2,
		InFlight:    1,
		WakeEnabled: true,
		WakeWord:    "jarvis",
		LastWake:    wake,
	}}
	srv := mcp.NewServer(status, &mock.Backend{}, mcp.WithEngineStates(func() map[string]string {
		return map[string]string{"whisper-native": "closed", "openai": "open"}
	}))
	cs := connect(t, srv)

	res := callText(t, cs, "status")
	if res.IsError {
		t.Fatalf("status returned tool error: %+v", res.Content)
	}
	var out mcp.StatusOutput
	decodeText(t, res, &out)

	if out.State != "recording" || out.Clients != 2 || out.InFlight != 1 {
		t.Errorf("status = %+v, want recording with 2 clients and 1 in flight", out)
	}
	if !out.WakeEnabled || out.WakeWord != "jarvis" {
		t.Errorf("wake = %v %q, want enabled jarvis", out.WakeEnabled, out.WakeWord)
	}
	if out.LastWake != "2026-03-01T12:00:00Z" {
		t.Errorf("LastWake = %q, want RFC 3339 time", out.LastWake)
	}
	if out.Engines["openai"] != "open" || out.Engines["whisper-native"] != "closed" {
		t.Errorf("Engines = %v", out.Engines)
	}
}

func TestServer_StatusError(t *testing.T) {
	t.Parallel()
	cs := connect(t, mcp.NewServer(fakeStatus{err: errors.New("coordinator stopped")}, &mock.Backend{}))

	res := callText(t, cs, "status")
	if !res.IsError {
		t.Fatal("IsError = false, want tool error when the snapshot fails")
	}
}

func TestServer_ListDevices(t *testing.T) {
	t.Parallel()
	backend := &mock.Backend{DevicesResult: []audio.Descriptor{
		{Index: 0, Name: "USB Mic", HostAPI: "ALSA", MaxInputChannels: 1, IsDefaultInput: true},
		{Index: 1, Name: "Speakers", HostAPI: "ALSA", MaxOutputChannels: 2},
	}}
	cs := connect(t, mcp.NewServer(fakeStatus{}, backend))

	var out audio.Listing
	decodeText(t, callText(t, cs, "list_devices"), &out)

	if len(out.Microphones) != 1 || out.Microphones[0].Name != "USB Mic" || !out.Microphones[0].IsDefault {
		t.Errorf("Microphones = %+v, want the default USB Mic", out.Microphones)
	}
	if len(out.SystemAudio) != 1 || out.SystemAudio[0].Name != "Speakers" {
		t.Errorf("SystemAudio = %+v, want Speakers", out.SystemAudio)
	}
}
