package filename

import (
	"sync"

	"github.com/buildbarn/bb-smb/pkg/clock"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TempDirectoryMarker is the prefix of the name of every staging
// directory. Directories having this prefix may be garbage collected
// once all files contained in them have become sufficiently old.
const TempDirectoryMarker = ".temp-beam-"

// Policy determines the names of the files of a single dataset, both
// at their final location and in the staging directory to which they
// are written before being committed.
type Policy struct {
	destination   resource.ID
	prefix        string
	suffix        string
	clock         clock.Clock
	uuidGenerator util.UUIDGenerator

	lock            sync.Mutex
	token           string
	tempAssignments map[resource.ID]*FileAssignment
}

// NewPolicy creates a Policy for a dataset stored in a given
// directory. Data files are named using a common prefix and suffix,
// where the suffix typically contains a file extension.
func NewPolicy(destination resource.ID, prefix, suffix string, clock clock.Clock, uuidGenerator util.UUIDGenerator) (*Policy, error) {
	if !destination.IsDirectory() {
		return nil, status.Errorf(codes.InvalidArgument, "Destination %#v is not a directory", destination.String())
	}
	return &Policy{
		destination:     destination,
		prefix:          prefix,
		suffix:          suffix,
		clock:           clock,
		uuidGenerator:   uuidGenerator,
		tempAssignments: map[resource.ID]*FileAssignment{},
	}, nil
}

// ForDestination returns the FileAssignment that yields the final
// locations of the files in the dataset.
func (p *Policy) ForDestination() *FileAssignment {
	return &FileAssignment{
		directory: p.destination,
		prefix:    p.prefix,
		suffix:    p.suffix,
	}
}

// ForTempFiles returns the FileAssignment that yields the locations of
// files in a staging directory placed underneath tempRoot. All calls
// against the same Policy share the same staging directory, and the
// same tempRoot yields the same FileAssignment.
func (p *Policy) ForTempFiles(tempRoot resource.ID) (*FileAssignment, error) {
	if !tempRoot.IsDirectory() {
		return nil, status.Errorf(codes.InvalidArgument, "Temporary directory %#v is not a directory", tempRoot.String())
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if fa, ok := p.tempAssignments[tempRoot]; ok {
		return fa, nil
	}
	if p.token == "" {
		token, err := p.uuidGenerator()
		if err != nil {
			return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to generate staging directory name")
		}
		p.token = token.String()
	}
	fa := &FileAssignment{
		directory: tempRoot.ResolveDirectory(TempDirectoryMarker + p.token),
		prefix:    p.prefix,
		suffix:    p.suffix,
		clock:     p.clock,
	}
	p.tempAssignments[tempRoot] = fa
	return fa, nil
}
