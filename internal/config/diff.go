package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	ConversationChanged bool
	SchemaFileChanged   bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: provider,
// audio, and storage changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Conversation != new.Conversation {
		d.ConversationChanged = true
	}

	if old.SchemaFile != new.SchemaFile {
		d.SchemaFileChanged = true
	}

	return d
}
