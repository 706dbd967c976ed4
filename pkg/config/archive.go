package config

// ArchiveConfig contains session archival sweep settings.
type ArchiveConfig struct {
	// CutoffDays is how long a session must have been terminated before the
	// daily sweep moves it to archive storage.
	CutoffDays int

	// BatchSize bounds how many sessions a single sweep pass archives.
	BatchSize int
}

// DefaultArchiveConfig returns an ArchiveConfig with sensible defaults
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		CutoffDays: 7,
		BatchSize:  500,
	}
}

// NewArchiveConfigFromEnv loads ArchiveConfig from standard environment variables.
//
// Environment variables:
//   - ARCHIVE_CUTOFF_DAYS: terminated-session age before archival (default: 7)
//   - ARCHIVE_BATCH_SIZE: max sessions archived per sweep (default: 500)
func NewArchiveConfigFromEnv() ArchiveConfig {
	return ArchiveConfig{
		CutoffDays: GetEnvInt("ARCHIVE_CUTOFF_DAYS", 7),
		BatchSize:  GetEnvInt("ARCHIVE_BATCH_SIZE", 500),
	}
}
