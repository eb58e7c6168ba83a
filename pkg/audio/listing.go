package audio

import (
	"strconv"
	"strings"
)

// InputCaptureTag is appended to the names of input devices offered as
// system-audio sources when no native loopback-capable outputs exist.
const InputCaptureTag = "[Input Capture]"

// SystemCaptureKeywords are lower-case name fragments of input devices that
// usually carry the system render mix (Stereo Mix, virtual cables, monitors).
var SystemCaptureKeywords = []string{
	"stereo mix",
	"loopback",
	"what u hear",
	"monitor",
	"voicemeeter out",
	"cable output",
	"mix out",
}

// LooksLikeSystemCapture reports whether name matches one of
// [SystemCaptureKeywords], case-insensitively.
func LooksLikeSystemCapture(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range SystemCaptureKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsWASAPI reports whether hostAPI names the Windows WASAPI host API.
func IsWASAPI(hostAPI string) bool {
	return strings.Contains(strings.ToUpper(hostAPI), "WASAPI")
}

// ListedDevice is one entry of the device-listing document.
type ListedDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HostAPI   string `json:"hostapi"`
	Channels  int    `json:"channels"`
	IsDefault bool   `json:"isDefault"`
}

// Listing is the JSON document printed by promptflux-devices.
type Listing struct {
	Microphones []ListedDevice `json:"microphones"`
	SystemAudio []ListedDevice `json:"systemAudio"`
}

// BuildListing groups devs into microphones (every input-capable device) and
// system-audio sources. System audio prefers WASAPI outputs, then input
// devices that look like system-mix captures (tagged with [InputCaptureTag]),
// then every output device.
func BuildListing(devs []Descriptor) Listing {
	l := Listing{
		Microphones: []ListedDevice{},
	}
	var outputs, wasapiOutputs, inputCaptures []ListedDevice

	for _, d := range devs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = "Unnamed Device"
		}
		hostAPI := d.HostAPI
		if hostAPI == "" {
			hostAPI = "Unknown"
		}
		id := strconv.Itoa(d.Index)

		if d.HasInput() {
			item := ListedDevice{ID: id, Name: name, HostAPI: hostAPI, Channels: d.MaxInputChannels, IsDefault: d.IsDefaultInput}
			l.Microphones = append(l.Microphones, item)
			if LooksLikeSystemCapture(name) {
				item.Name = name + " " + InputCaptureTag
				inputCaptures = append(inputCaptures, item)
			}
		}
		if d.HasOutput() {
			item := ListedDevice{ID: id, Name: name, HostAPI: hostAPI, Channels: d.MaxOutputChannels, IsDefault: d.IsDefaultOutput}
			outputs = append(outputs, item)
			if IsWASAPI(hostAPI) {
				wasapiOutputs = append(wasapiOutputs, item)
			}
		}
	}

	switch {
	case len(wasapiOutputs) > 0:
		l.SystemAudio = wasapiOutputs
	case len(inputCaptures) > 0:
		l.SystemAudio = inputCaptures
	case len(outputs) > 0:
		l.SystemAudio = outputs
	default:
		l.SystemAudio = []ListedDevice{}
	}
	return l
}
