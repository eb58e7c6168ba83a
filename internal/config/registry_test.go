package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
	audiomock "github.com/MrWong99/promptflux-stt/pkg/audio/mock"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
	sttmock "github.com/MrWong99/promptflux-stt/pkg/provider/stt/mock"
)

func TestRegistry_Engines(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var got config.EngineEntry
	r.RegisterEngine("mock", func(e config.EngineEntry) (stt.Transcriber, error) {
		got = e
		return &sttmock.Transcriber{}, nil
	})

	eng, err := r.CreateEngine(config.EngineEntry{Name: "mock", Model: "tiny"})
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if eng == nil || got.Model != "tiny" {
		t.Errorf("factory got %+v", got)
	}

	if _, err := r.CreateEngine(config.EngineEntry{Name: "nope"}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("err = %v, want ErrNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("model missing")
	r.RegisterEngine("broken", func(config.EngineEntry) (stt.Transcriber, error) { return nil, boom })
	if _, err := r.CreateEngine(config.EngineEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestRegistry_Backends(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterBackend("mock", func() (audio.Backend, error) { return &audiomock.Backend{}, nil })
	r.RegisterBackend("alsa", func() (audio.Backend, error) { return &audiomock.Backend{}, nil })

	if _, err := r.CreateBackend("mock"); err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if _, err := r.CreateBackend("pulse"); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("err = %v, want ErrNotRegistered", err)
	}
	if names := r.BackendNames(); !slices.Equal(names, []string{"alsa", "mock"}) {
		t.Errorf("BackendNames() = %v", names)
	}
	if names := r.EngineNames(); len(names) != 0 {
		t.Errorf("EngineNames() = %v, want empty", names)
	}
}
