package storage

import (
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/cockroachdb/errors"
)

// S3Mirror wraps an FS and, on Close, mirrors each written file to an S3
// bucket — the same pattern the teacher's cloud/aws.CloudFile uses to push
// MANIFEST writes to S3, generalized here to the planner's three output
// artifacts (and gated by the same .log/.dbtmp skip list as the teacher's
// SkipS3Upload).
type S3Mirror struct {
	wrapped  FS
	bucket   string
	prefix   string
	uploader *s3manager.Uploader
}

var _ FS = (*S3Mirror)(nil)

// NewS3Mirror returns an FS that writes through to wrapped and additionally
// uploads each closed file to bucket/prefix/<name>.
func NewS3Mirror(wrapped FS, bucket, prefix string) (*S3Mirror, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "ap-south-1"
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "storage: creating AWS session")
	}
	return &S3Mirror{
		wrapped:  wrapped,
		bucket:   bucket,
		prefix:   prefix,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (m *S3Mirror) Create(name string) (File, error) {
	f, err := m.wrapped.Create(name)
	if err != nil {
		return nil, err
	}
	return &mirroredFile{File: f, name: name, mirror: m}, nil
}

func (m *S3Mirror) Open(name string) (File, error) { return m.wrapped.Open(name) }
func (m *S3Mirror) Remove(name string) error       { return m.wrapped.Remove(name) }
func (m *S3Mirror) MkdirAll(dir string, perm uint32) error {
	return m.wrapped.MkdirAll(dir, perm)
}

func (m *S3Mirror) upload(name string) error {
	if skipS3Upload(name) {
		return nil
	}
	r, err := m.wrapped.Open(name)
	if err != nil {
		return errors.Wrapf(err, "storage: reopening %q to mirror to S3", name)
	}
	defer r.Close()
	_, err = m.uploader.Upload(&s3manager.UploadInput{
		Body:   r,
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.prefix + "/" + name),
	})
	return errors.Wrapf(err, "storage: uploading %q to s3://%s/%s", name, m.bucket, m.prefix)
}

// skipS3Upload mirrors the teacher's cloud/aws.SkipS3Upload: scratch/log
// artifacts never need to leave the local disk.
func skipS3Upload(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".dbtmp")
}

type mirroredFile struct {
	File
	name   string
	mirror *S3Mirror
}

func (f *mirroredFile) Close() error {
	closeErr := f.File.Close()
	uploadErr := f.mirror.upload(f.name)
	if closeErr != nil {
		return closeErr
	}
	return uploadErr
}
