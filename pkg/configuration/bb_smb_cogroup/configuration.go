package bb_smb_cogroup

import (
	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/global"
	"github.com/buildbarn/bb-smb/pkg/resource"
)

// DatasetConfiguration selects a dataset containing JSON records that
// was written by a bucket writer.
type DatasetConfiguration struct {
	Directory      string                  `json:"directory"`
	FilenamePrefix string                  `json:"filenamePrefix"`
	FilenameSuffix string                  `json:"filenameSuffix"`
	Compression    compression.Compression `json:"compression,omitempty"`
}

// ApplicationConfiguration of bb_smb_cogroup.
type ApplicationConfiguration struct {
	Global   *global.Configuration   `json:"global,omitempty"`
	Store    *resource.Configuration `json:"store"`
	Datasets []DatasetConfiguration  `json:"datasets"`
	// Name of the top-level field of every record that contains its
	// key. Records lacking this field are not joined.
	KeyField string `json:"keyField"`
	// Maximum number of buckets that are read concurrently. If
	// zero, all buckets are read concurrently.
	Parallelism int `json:"parallelism,omitempty"`
}
