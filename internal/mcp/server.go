// Package mcp exposes a read-only Model Context Protocol control surface for
// the running service: session status and the audio device listing.
//
// The server is mounted on the HTTP mux with the streamable HTTP transport:
//
//	srv := mcp.NewServer(coordinator, backend, mcp.WithEngineStates(chain.StateNames))
//	mux.Handle("/mcp", srv.Handler())
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/promptflux-stt/internal/session"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// StatusSource reports the session status. *session.Coordinator satisfies
// it.
type StatusSource interface {
	Snapshot(ctx context.Context) (session.Status, error)
}

// DeviceSource enumerates audio devices. Every [audio.Backend] satisfies it.
type DeviceSource interface {
	Devices() ([]audio.Descriptor, error)
}

// StatusOutput is the structured result of the status tool.
type StatusOutput struct {
	State       string            `json:"state" jsonschema:"session state: idle, recording or transcribing"`
	Clients     int               `json:"clients" jsonschema:"attached session clients"`
	InFlight    int               `json:"transcriptions_in_flight"`
	WakeEnabled bool              `json:"wake_enabled"`
	WakeWord    string            `json:"wake_word,omitempty"`
	LastWake    string            `json:"last_wake,omitempty" jsonschema:"RFC 3339 time of the last accepted wake word"`
	Engines     map[string]string `json:"engines,omitempty" jsonschema:"circuit breaker state per transcription engine"`
}

// Option customises a [Server].
type Option func(*Server)

// WithEngineStates adds per-engine circuit states to the status tool.
func WithEngineStates(fn func() map[string]string) Option {
	return func(s *Server) { s.engines = fn }
}

// WithVersion sets the implementation version advertised to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is the MCP server with its registered tools.
type Server struct {
	status  StatusSource
	devices DeviceSource
	engines func() map[string]string
	version string

	sdk *mcpsdk.Server
}

// NewServer registers the status and list_devices tools.
func NewServer(status StatusSource, devices DeviceSource, opts ...Option) *Server {
	s := &Server{status: status, devices: devices, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "promptflux-stt", Version: s.version}, nil)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "status",
		Description: "Report the speech session state, attached clients, wake-word settings and engine health.",
	}, s.handleStatus)
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "list_devices",
		Description: "List microphones and system-audio capture sources known to the audio backend.",
	}, s.handleListDevices)
	return s
}

// SDK returns the underlying SDK server, e.g. to connect it to a custom
// transport.
func (s *Server) SDK() *mcpsdk.Server { return s.sdk }

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

func (s *Server) handleStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := s.status.Snapshot(ctx)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("mcp: session status: %w", err)
	}
	out := StatusOutput{
		State:       st.State.String(),
		Clients:     st.Clients,
		InFlight:    st.InFlight,
		WakeEnabled: st.WakeEnabled,
		WakeWord:    st.WakeWord,
	}
	if !st.LastWake.IsZero() {
		out.LastWake = st.LastWake.UTC().Format(time.RFC3339)
	}
	if s.engines != nil {
		out.Engines = s.engines()
	}
	return nil, out, nil
}

func (s *Server) handleListDevices(_ context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, audio.Listing, error) {
	devs, err := s.devices.Devices()
	if err != nil {
		return nil, audio.Listing{}, fmt.Errorf("mcp: enumerate devices: %w", err)
	}
	return nil, audio.BuildListing(devs), nil
}
