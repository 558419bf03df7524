package config

// ConfigDiff describes what changed between two configs, grouped by how the
// change can be applied: log level switches immediately, tuning sections
// take effect at the next recording session, and everything else needs a
// process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Tuning lists the sections whose new values apply at the next session.
	Tuning []string

	// RestartNeeded lists the sections that changed but only apply after a
	// restart, so the operator can be warned instead of silently ignored.
	RestartNeeded []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	// Sessions are built from the current config each time the gesture
	// fires, so these sections reload without any plumbing.
	if old.Gesture != new.Gesture {
		d.Tuning = append(d.Tuning, "gesture")
	}
	if old.Segmenter != new.Segmenter {
		d.Tuning = append(d.Tuning, "segmenter")
	}
	if old.Dispatcher != new.Dispatcher {
		d.Tuning = append(d.Tuning, "dispatcher")
	}

	// Everything below is wired once at startup.
	if old.Audio != new.Audio {
		d.RestartNeeded = append(d.RestartNeeded, "audio")
	}
	if old.Recognizer != new.Recognizer {
		d.RestartNeeded = append(d.RestartNeeded, "recognizer")
	}
	if old.History != new.History {
		d.RestartNeeded = append(d.RestartNeeded, "history")
	}
	if old.Delivery != new.Delivery {
		d.RestartNeeded = append(d.RestartNeeded, "delivery")
	}
	if old.Cues != new.Cues {
		d.RestartNeeded = append(d.RestartNeeded, "cues")
	}
	if old.SegmentDumpDir != new.SegmentDumpDir {
		d.RestartNeeded = append(d.RestartNeeded, "segment_dump_dir")
	}
	if old.DebugAddr != new.DebugAddr {
		d.RestartNeeded = append(d.RestartNeeded, "debug_addr")
	}

	return d
}
