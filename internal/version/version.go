package version

// Set at build time via -ldflags "-X github.com/throw-if-null/vibe/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)
