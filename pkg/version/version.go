package version

// These variables will be injected at build time via ldflags
var (
	Version   = "soccer-rig-1.2.0" // release tag for the rig firmware bundle
	GitCommit = "unknown"          // git commit hash
	BuildDate = "unknown"          // build timestamp
)

// Info represents version information for the node service
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// GetInfo returns version information as a struct
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// GetShortCommit returns the short git commit hash (first 7 characters)
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}
