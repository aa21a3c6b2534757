package pulse

// Version information for pulse
const (
	// Version is the current release
	Version = "development"

	// WireVersion names the datagram format tracers and collectors share
	WireVersion = "v1"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
