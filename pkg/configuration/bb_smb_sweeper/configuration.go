package bb_smb_sweeper

import (
	"github.com/buildbarn/bb-smb/pkg/global"
	"github.com/buildbarn/bb-smb/pkg/resource"
)

// ApplicationConfiguration of bb_smb_sweeper.
type ApplicationConfiguration struct {
	Global *global.Configuration `json:"global,omitempty"`
	// Store containing the staging directories.
	Store *resource.Configuration `json:"store"`
	// Directory underneath which bucket writers create their
	// staging directories.
	TempDirectory string `json:"tempDirectory"`
	// Minimum age of files in staging directories before they are
	// removed, using the syntax of time.ParseDuration().
	MaximumAge string `json:"maximumAge"`
	// Interval at which staging directories are swept.
	SweepInterval string `json:"sweepInterval"`
}
