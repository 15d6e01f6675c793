package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
)

const maxImageUploadSize = int64(10 * 1024 * 1024)

var imageContentTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// uploadPolicies restricts what each purpose may upload.
var uploadPolicies = map[AssetPurpose]UploadOptions{
	PurposeAvatar:       {AllowedContentTypes: imageContentTypes, MaxSize: 5 * 1024 * 1024},
	PurposeProductImage: {AllowedContentTypes: imageContentTypes, MaxSize: maxImageUploadSize},
	PurposeProductPDF:   {AllowedContentTypes: []string{"application/pdf"}, MaxSize: 50 * 1024 * 1024},
	PurposeSiteAsset:    {AllowedContentTypes: imageContentTypes, MaxSize: maxImageUploadSize},
}

// Uploads issues signed upload URLs into a single bucket.
type Uploads struct {
	client    *Client
	bucket    string
	publicURL string
	expiry    time.Duration
}

// NewUploads binds the signed URL client to bucket. publicBase is used to build
// the public object URL returned alongside the signed one.
func NewUploads(client *Client, bucket, publicBase string, expiry time.Duration) (*Uploads, error) {
	if client == nil {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	publicBase = strings.TrimRight(strings.TrimSpace(publicBase), "/")
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com/" + bucket
	}
	return &Uploads{client: client, bucket: bucket, publicURL: publicBase, expiry: expiry}, nil
}

// SignUpload resolves the object path for purpose and signs a PUT for it.
func (u *Uploads) SignUpload(ctx context.Context, purpose AssetPurpose, params PathParams, contentType string) (domain.SignedUpload, error) {
	if u == nil {
		return domain.SignedUpload{}, errors.New("storage: uploads not configured")
	}
	object, err := BuildObjectPath(purpose, params)
	if err != nil {
		return domain.SignedUpload{}, err
	}
	policy := uploadPolicies[purpose]
	policy.Method = httpMethodPut
	policy.ContentType = contentType
	policy.ExpiresIn = u.expiry

	res, err := u.client.SignedURL(ctx, u.bucket, object, SignedURLOptions{Upload: &policy})
	if err != nil {
		return domain.SignedUpload{}, fmt.Errorf("storage: sign %s upload: %w", purpose, err)
	}
	return domain.SignedUpload{
		ObjectPath: object,
		URL:        res.URL,
		PublicURL:  u.publicURL + "/" + object,
		Method:     res.Method,
		Headers:    res.Headers,
		ExpiresAt:  res.ExpiresAt,
	}, nil
}

// IsContentTypeDenied reports whether err was caused by a disallowed content type.
func IsContentTypeDenied(err error) bool {
	return errors.Is(err, errContentTypeDenied) || errors.Is(err, errContentTypeMissing)
}
