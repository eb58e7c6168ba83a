// Command promptflux-devices prints the capture devices known to an audio
// backend as one JSON object with "microphones" and "systemAudio" lists.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/promptflux-stt/internal/app"
	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	backend := flag.String("backend", "portaudio", "audio backend to enumerate (portaudio, malgo)")
	indent := flag.Bool("indent", false, "pretty-print the JSON output")
	flag.Parse()

	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	b, err := reg.CreateBackend(*backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "promptflux-devices: %v\n", err)
		return 1
	}
	defer b.Close()

	if err := list(os.Stdout, b, *indent); err != nil {
		fmt.Fprintf(os.Stderr, "promptflux-devices: %v\n", err)
		return 1
	}
	return 0
}

// list writes the device listing of b to w.
func list(w io.Writer, b audio.Backend, indent bool) error {
	devs, err := b.Devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(audio.BuildListing(devs))
}
