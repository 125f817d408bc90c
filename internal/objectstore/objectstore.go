// Package objectstore mints signed upload URLs so clients can PUT media
// directly to the bucket without routing bytes through this service.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const (
	uploadPrefix     = "uploads"
	signedURLExpiry  = 15 * time.Minute
	defaultExtension = "jpg"
)

// SignedUpload is one minted upload target.
type SignedUpload struct {
	UploadURL  string
	ObjectPath string
}

// Issuer mints signed upload URLs.
type Issuer interface {
	SignedUploadURL(ctx context.Context, contentType string, fileExtension string) (SignedUpload, error)
}

// GCSIssuer issues V4 signed PUT URLs against a GCS bucket.
type GCSIssuer struct {
	client *storage.Client
	bucket string
}

// NewGCSIssuer wraps a storage client and target bucket.
func NewGCSIssuer(client *storage.Client, bucket string) (*GCSIssuer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSIssuer{client: client, bucket: bucket}, nil
}

// SignedUploadURL mints a 15-minute PUT URL for a fresh object path.
func (issuer *GCSIssuer) SignedUploadURL(_ context.Context, contentType string, fileExtension string) (SignedUpload, error) {
	extension := strings.TrimPrefix(strings.TrimSpace(fileExtension), ".")
	if extension == "" {
		extension = defaultExtension
	}
	objectPath := fmt.Sprintf("%s/%s.%s", uploadPrefix, uuid.NewString(), extension)
	uploadURL, err := issuer.client.Bucket(issuer.bucket).SignedURL(objectPath, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().UTC().Add(signedURLExpiry),
		ContentType: contentType,
	})
	if err != nil {
		return SignedUpload{}, fmt.Errorf("sign upload url: %w", err)
	}
	return SignedUpload{UploadURL: uploadURL, ObjectPath: objectPath}, nil
}
