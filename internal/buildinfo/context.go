// Package buildinfo holds build-time metadata kept apart from user configuration
package buildinfo

const unknown = "unknown"

// These are set with -ldflags "-X github.com/tphakala/polecam/internal/buildinfo.Version=..."
var (
	Version   = ""
	BuildDate = ""
)

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetSystemID() string
}

// Context contains build-time metadata that is not user-configurable
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// SystemID identifies this pole in error telemetry without naming it
	SystemID string
}

// Current returns the metadata linked into the binary together with systemID
func Current(systemID string) *Context {
	return &Context{Version: Version, BuildDate: BuildDate, SystemID: systemID}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// GetSystemID implements BuildInfo.GetSystemID
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return unknown
	}
	return c.SystemID
}
