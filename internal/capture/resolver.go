package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// ErrDeviceNotFound is returned when no device satisfies a resolution
// request.
var ErrDeviceNotFound = errors.New("capture: device not found")

// Requirement is the capability filter applied during device resolution.
type Requirement struct {
	NeedInput  bool
	NeedOutput bool

	// PreferHostAPI, when non-empty, selects the first capability-satisfying
	// device whose host API name contains it (case-insensitive) before
	// falling back to the OS default.
	PreferHostAPI string
}

// Satisfies reports whether d passes the capability filter.
func (r Requirement) Satisfies(d audio.Descriptor) bool {
	if r.NeedInput && !d.HasInput() {
		return false
	}
	if r.NeedOutput && !d.HasOutput() {
		return false
	}
	return true
}

// Spec is a parsed user device specification.
type Spec struct {
	// Set is false for an empty or blank spec.
	Set bool
	// Index is valid when IsIndex is true.
	Index   int
	IsIndex bool
	// Name is the trimmed name fragment when IsIndex is false.
	Name string
}

// ParseSpec parses a device spec: blank means unset, an all-digit string is
// an exact device index, anything else is a name.
func ParseSpec(s string) Spec {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}
	}
	if isDigits(s) {
		if idx, err := strconv.Atoi(s); err == nil {
			return Spec{Set: true, Index: idx, IsIndex: true}
		}
	}
	return Spec{Set: true, Name: s}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Resolve maps spec onto one of devs.
//
// A numeric spec must name an existing device that satisfies req; it is never
// matched by name. A name spec is matched case-insensitively, exact before
// substring, among capability-satisfying devices; an unmatched name falls
// through to the defaults. Defaults are, in order: the first device on
// req.PreferHostAPI, the OS default for the required direction, and the first
// capability-satisfying device.
func Resolve(devs []audio.Descriptor, spec string, req Requirement) (audio.Descriptor, error) {
	parsed := ParseSpec(spec)
	if parsed.IsIndex {
		for _, d := range devs {
			if d.Index == parsed.Index {
				if !req.Satisfies(d) {
					return audio.Descriptor{}, fmt.Errorf("%w: device %d lacks required capabilities", ErrDeviceNotFound, parsed.Index)
				}
				return d, nil
			}
		}
		return audio.Descriptor{}, fmt.Errorf("%w: no device with index %d", ErrDeviceNotFound, parsed.Index)
	}

	var candidates []audio.Descriptor
	for _, d := range devs {
		if req.Satisfies(d) {
			candidates = append(candidates, d)
		}
	}

	if parsed.Set {
		if d, ok := matchName(candidates, parsed.Name); ok {
			return d, nil
		}
	}

	if req.PreferHostAPI != "" {
		token := strings.ToLower(req.PreferHostAPI)
		for _, d := range candidates {
			if strings.Contains(strings.ToLower(d.HostAPI), token) {
				return d, nil
			}
		}
	}

	for _, d := range candidates {
		if req.NeedInput && d.IsDefaultInput {
			return d, nil
		}
		if !req.NeedInput && d.IsDefaultOutput {
			return d, nil
		}
	}

	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return audio.Descriptor{}, fmt.Errorf("%w: no device satisfies input=%t output=%t", ErrDeviceNotFound, req.NeedInput, req.NeedOutput)
}

// matchName finds the first exact (case-insensitive) name match, then the
// first substring match.
func matchName(devs []audio.Descriptor, name string) (audio.Descriptor, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, d := range devs {
		if strings.ToLower(strings.TrimSpace(d.Name)) == want {
			return d, true
		}
	}
	for _, d := range devs {
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, true
		}
	}
	return audio.Descriptor{}, false
}

// Resolver resolves device specs against a live [audio.Backend]. It
// enumerates devices on every call; topology may change between calls.
type Resolver struct {
	backend audio.Backend
}

// NewResolver returns a Resolver over backend.
func NewResolver(backend audio.Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Resolve enumerates the backend's devices and calls [Resolve].
func (r *Resolver) Resolve(spec string, req Requirement) (audio.Descriptor, error) {
	devs, err := r.backend.Devices()
	if err != nil {
		return audio.Descriptor{}, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	return Resolve(devs, spec, req)
}
