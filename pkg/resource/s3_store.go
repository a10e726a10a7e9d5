package resource

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	cloud_aws "github.com/buildbarn/bb-smb/pkg/cloud/aws"
	"github.com/buildbarn/bb-smb/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func convertS3Error(err error, format string, args ...any) error {
	if isS3NotFound(err) {
		return util.StatusWrapfWithCode(err, codes.NotFound, format, args...)
	}
	return util.StatusWrapf(err, format, args...)
}

type s3Store struct {
	client     cloud_aws.S3Client
	uploader   *manager.Uploader
	bucketName string
}

// NewS3Store creates a Store that is backed by an Amazon S3 bucket.
// Files are written using multipart uploads, meaning that they do not
// need to be buffered in memory in their entirety. Renames are
// performed using server-side copies.
func NewS3Store(client cloud_aws.S3Client, bucketName string) Store {
	return &s3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucketName: bucketName,
	}
}

// s3Writer streams the contents of a file into an upload that runs in
// the background. Close() must always be called, as the upload
// otherwise remains blocked.
type s3Writer struct {
	id         ID
	pipeWriter *io.PipeWriter
	uploadErr  <-chan error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	n, err := w.pipeWriter.Write(p)
	if err != nil {
		return n, convertS3Error(err, "Failed to store %#v", w.id.String())
	}
	return n, nil
}

func (w *s3Writer) Close() error {
	if w.uploadErr == nil {
		return status.Errorf(codes.FailedPrecondition, "File %#v is already closed", w.id.String())
	}
	w.pipeWriter.Close()
	err := <-w.uploadErr
	w.uploadErr = nil
	if err != nil {
		return convertS3Error(err, "Failed to store %#v", w.id.String())
	}
	return nil
}

func (s *s3Store) NewWriter(ctx context.Context, id ID, mimeType string) (io.WriteCloser, error) {
	pipeReader, pipeWriter := io.Pipe()
	uploadErr := make(chan error, 1)
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucketName),
			Key:         aws.String(id.String()),
			Body:        pipeReader,
			ContentType: aws.String(mimeType),
		})
		// Unblock writers if the upload fails early.
		pipeReader.CloseWithError(err)
		uploadErr <- err
	}()
	return &s3Writer{
		id:         id,
		pipeWriter: pipeWriter,
		uploadErr:  uploadErr,
	}, nil
}

func (s *s3Store) NewReader(ctx context.Context, id ID) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id.String()),
	})
	if err != nil {
		return nil, convertS3Error(err, "Failed to open %#v", id.String())
	}
	return output.Body, nil
}

func (s *s3Store) getCopySource(id ID) string {
	components := strings.Split(id.String(), "/")
	for i, component := range components {
		components[i] = url.PathEscape(component)
	}
	return url.PathEscape(s.bucketName) + "/" + strings.Join(components, "/")
}

func (s *s3Store) Rename(ctx context.Context, from, to ID) error {
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucketName),
		Key:        aws.String(to.String()),
		CopySource: aws.String(s.getCopySource(from)),
	}); err != nil {
		return renameIfNotMoved(ctx, s, from, to, convertS3Error(err, "Failed to copy %#v to %#v", from.String(), to.String()))
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(from.String()),
	}); err != nil {
		return convertS3Error(err, "Failed to delete %#v after copying it to %#v", from.String(), to.String())
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, id ID) error {
	// DeleteObject succeeds for objects that do not exist.
	if exists, err := s.Exists(ctx, id); err != nil {
		return err
	} else if !exists {
		return status.Errorf(codes.NotFound, "Failed to delete %#v: Object does not exist", id.String())
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id.String()),
	}); err != nil {
		return convertS3Error(err, "Failed to delete %#v", id.String())
	}
	return nil
}

func (s *s3Store) Exists(ctx context.Context, id ID) (bool, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id.String()),
	}); err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, convertS3Error(err, "Failed to obtain attributes of %#v", id.String())
	}
	return true, nil
}

func (s *s3Store) List(ctx context.Context, directory ID) ([]FileInfo, error) {
	var files []FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(directory.GetDirectory().String()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, convertS3Error(err, "Failed to list %#v", directory.String())
		}
		for _, object := range page.Contents {
			files = append(files, FileInfo{
				ID:               NewID(aws.ToString(object.Key)),
				SizeBytes:        aws.ToInt64(object.Size),
				ModificationTime: aws.ToTime(object.LastModified),
			})
		}
	}
	return files, nil
}
