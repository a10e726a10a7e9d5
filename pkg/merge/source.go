package merge

import (
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/filename"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Source of a merge read: a single dataset that was written by a
// BucketWriter.
type Source[V any] struct {
	Metadata       *bucket.Metadata
	Files          *filename.FileAssignment
	FileOperations fileops.FileOperations[V]
	KeyFunction    bucket.KeyFunction[V]
}

func (s *Source[V]) validate(index int) error {
	if s.Metadata == nil {
		return status.Errorf(codes.InvalidArgument, "Source %d has no bucket metadata", index)
	}
	if s.Files == nil {
		return status.Errorf(codes.InvalidArgument, "Source %d has no file assignment", index)
	}
	if s.FileOperations == nil {
		return status.Errorf(codes.InvalidArgument, "Source %d has no file operations", index)
	}
	if s.KeyFunction == nil {
		return status.Errorf(codes.InvalidArgument, "Source %d has no key function", index)
	}
	return nil
}

// NewSourceFromDirectory creates a Source for a dataset stored in a
// given directory, by loading its metadata file. The prefix and suffix
// must match the ones that were used to write the dataset.
func NewSourceFromDirectory[V any](ctx context.Context, store resource.Store, directory resource.ID, prefix, suffix string, fileOperations fileops.FileOperations[V], keyFunction bucket.KeyFunction[V]) (Source[V], error) {
	policy, err := filename.NewPolicy(directory, prefix, suffix, nil, nil)
	if err != nil {
		return Source[V]{}, err
	}
	files := policy.ForDestination()

	metadataID := files.ForMetadata()
	r, err := store.NewReader(ctx, metadataID)
	if err != nil {
		return Source[V]{}, util.StatusWrapf(err, "Failed to open metadata of dataset %#v", directory.String())
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return Source[V]{}, util.StatusWrapf(err, "Failed to read %#v", metadataID.String())
	}
	metadata, err := bucket.ParseMetadata(data)
	if err != nil {
		return Source[V]{}, util.StatusWrapf(err, "Failed to parse %#v", metadataID.String())
	}
	return Source[V]{
		Metadata:       metadata,
		Files:          files,
		FileOperations: fileOperations,
		KeyFunction:    keyFunction,
	}, nil
}
