package utils

import "runtime/debug"

type Version struct {
	Version   string
	GoVersion string
}

// GetVersion reads the version from the build information: the git revision
// the binary was built from, or the module version when installed with go install.
func GetVersion() (version Version) {
	// Defaults to dev
	version.Version = "dev"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}

	if v := info.Main.Version; v != "" && v != "(devel)" {
		version.Version = v
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			version.Version = setting.Value
		case "vcs.modified":
			// uncommitted changes on top of the revision
			if setting.Value == "true" {
				version.Version += " (modified)"
			}
		}
	}

	// Get the Go version used to build harvester
	version.GoVersion = info.GoVersion

	return version
}
