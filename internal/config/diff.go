package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TriggerChanged reports a change of any hot-reloadable trigger
	// heuristic (wake word, thresholds, cadences, prompt).
	TriggerChanged bool

	// RestartRequired lists the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TriggerChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ot, nt := old.Trigger, new.Trigger
	if ot.Mode != nt.Mode {
		d.RestartRequired = append(d.RestartRequired, "trigger.mode")
	}
	ot.Mode, nt.Mode = "", ""
	d.TriggerChanged = ot != nt

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if oldSrv != newSrv {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !engineEqual(old.Engine, new.Engine) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Sentry != new.Sentry {
		d.RestartRequired = append(d.RestartRequired, "sentry")
	}
	return d
}

func engineEqual(a, b EngineConfig) bool {
	if a.EngineEntry != b.EngineEntry || a.Language != b.Language || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if a.Fallbacks[i] != b.Fallbacks[i] {
			return false
		}
	}
	return true
}
