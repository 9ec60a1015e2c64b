package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const parquetContentType = "application/vnd.apache.parquet"

// ObjectPutter is the S3 call the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options selects the bucket and credentials for uploads. Endpoint points
// the client at an S3-compatible store and switches to path-style URLs.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Profile  string
	Endpoint string
}

// NewS3Client loads the default AWS config chain for region and profile.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

// S3Uploader copies written files into a bucket, keyed by their path
// relative to a local root under Prefix.
type S3Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Uploader binds an uploader to bucket and key prefix.
func NewS3Uploader(client ObjectPutter, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for file under root.
func (u *S3Uploader) Key(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", file, err)
	}
	return path.Join(u.prefix, filepath.ToSlash(rel)), nil
}

// Upload puts one local file and returns its key.
func (u *S3Uploader) Upload(ctx context.Context, root, file string) (string, error) {
	key, err := u.Key(root, file)
	if err != nil {
		return "", err
	}
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(parquetContentType),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3 bucket %s: %w", u.bucket, err)
	}
	return key, nil
}

// Wrap returns a writer that writes each table with p and then uploads the
// resulting file.
func (u *S3Uploader) Wrap(p *ParquetWriter) Writer {
	return &uploadingWriter{files: p, uploader: u}
}

type uploadingWriter struct {
	files    *ParquetWriter
	uploader *S3Uploader
}

func (w *uploadingWriter) WriteTable(ctx context.Context, t Table) error {
	if err := w.files.WriteTable(ctx, t); err != nil {
		return err
	}
	if _, err := w.uploader.Upload(ctx, w.files.Dir, w.files.Path(t.Name)); err != nil {
		return fmt.Errorf("upload %s: %w", t.Name, err)
	}
	return nil
}
