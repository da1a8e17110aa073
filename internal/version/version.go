// Package version holds the build version, set with
// -ldflags "-X github.com/born-ml/dlnet/internal/version.Version=...".
package version

var Version = "0.0.0"
