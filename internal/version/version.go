// Package version provides information about the build version
package version

// Version is the agent's semantic version, set at build time with
// -ldflags "-X .../internal/version.Version=v1.2.3".
// Development builds report "devel".
var Version = "devel" //nolint:gochecknoglobals
