package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// Writer uploads archive files to the configured bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put stores data under path with a single PutObject call.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data under path through the upload manager in parts
// of partSize bytes (raised to the S3 minimum when smaller). The archiver
// uses it for exports too large for a single request.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
