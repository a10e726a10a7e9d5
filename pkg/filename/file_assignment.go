package filename

import (
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/clock"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
)

const (
	metadataFilename  = "metadata"
	metadataExtension = ".json"
	tempTimestamp     = "2006-01-02_15-04"
)

var tempFilenamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}_\d{2}-\d{2})-\d{2,}-`)

// FileAssignment yields the names of the files of a dataset within a
// single directory. FileAssignments for staging directories prefix
// every filename with the current time and a sequence number, so that
// every file name is unique.
type FileAssignment struct {
	directory resource.ID
	prefix    string
	suffix    string

	// Only set for staging directories.
	clock    clock.Clock
	sequence atomic.Uint64
}

// GetDirectory returns the directory in which files are placed.
func (fa *FileAssignment) GetDirectory() resource.ID {
	return fa.directory
}

// IsTemporary returns true if the FileAssignment yields names of files
// in a staging directory.
func (fa *FileAssignment) IsTemporary() bool {
	return fa.clock != nil
}

func (fa *FileAssignment) resolve(filename string) resource.ID {
	if fa.clock == nil {
		return fa.directory.Resolve(filename)
	}
	sequence := fa.sequence.Add(1) - 1
	return fa.directory.Resolve(fmt.Sprintf(
		"%s-%02d-%s",
		fa.clock.Now().UTC().Format(tempTimestamp),
		sequence,
		filename))
}

// ForMetadata returns the location of the metadata file of the
// dataset.
func (fa *FileAssignment) ForMetadata() resource.ID {
	return fa.resolve(metadataFilename + metadataExtension)
}

// ForBucket returns the location of the data file holding a given
// bucket and shard. The shard is omitted from the filename if the
// dataset only has a single shard per bucket.
func (fa *FileAssignment) ForBucket(id bucket.ShardID, metadata *bucket.Metadata) (resource.ID, error) {
	if err := id.Validate(metadata); err != nil {
		return resource.ID{}, err
	}
	var filename string
	if id.IsNullKey() {
		filename = fmt.Sprintf("%s-null-keys%s", fa.prefix, fa.suffix)
	} else if metadata.GetNumShards() == 1 {
		filename = fmt.Sprintf(
			"%s-%05d-of-%05d%s",
			fa.prefix,
			id.GetBucketID(),
			metadata.GetNumBuckets(),
			fa.suffix)
	} else {
		filename = fmt.Sprintf(
			"%s-%05d-of-%05d-shard-%05d-of-%05d%s",
			fa.prefix,
			id.GetBucketID(),
			metadata.GetNumBuckets(),
			id.GetShardID(),
			metadata.GetNumShards(),
			fa.suffix)
	}
	return fa.resolve(filename), nil
}

// GetDisplayData returns the properties of the FileAssignment.
func (fa *FileAssignment) GetDisplayData() util.DisplayData {
	return util.DisplayData{
		"directory":      fa.directory.String(),
		"filenamePrefix": fa.prefix,
		"filenameSuffix": fa.suffix,
		"temporary":      strconv.FormatBool(fa.IsTemporary()),
	}
}

// ParseTempFilename extracts the creation time from the name of a file
// placed in a staging directory. The creation time has a granularity
// of one minute.
func ParseTempFilename(filename string) (time.Time, bool) {
	match := tempFilenamePattern.FindStringSubmatch(filename)
	if match == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(tempTimestamp, match[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
