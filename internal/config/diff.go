package config

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied without a restart; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections (or server fields) whose
	// changes only take effect after the process restarts.
	RestartRequired []string
}

// HasChanges reports whether anything differs between the two configs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Skill != new.Skill {
		d.RestartRequired = append(d.RestartRequired, "skill")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}
	if old.Darwin != new.Darwin {
		d.RestartRequired = append(d.RestartRequired, "darwin")
	}
	if old.TransportAPI != new.TransportAPI {
		d.RestartRequired = append(d.RestartRequired, "transportapi")
	}
	if old.Rail != new.Rail {
		d.RestartRequired = append(d.RestartRequired, "rail")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}
