// internal/cloudstore/cloudstore.go
package cloudstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"flipcut/internal/models"
)

type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string { return e.Message }
func (e *StorageError) Unwrap() error { return e.Err }

type UploadOptions struct {
	Folder string
	Format string // empty keeps the source format
}

type UploadResult struct {
	URL      string
	PublicID string
}

// Client wraps the Cloudinary uploader. A client built from placeholder
// credentials still constructs; every call then fails with a
// configuration message so the rest of the service keeps running.
type Client struct {
	cld        *cloudinary.Cloudinary
	configured bool
}

func NewClient(cfg models.CloudinaryConfig) (*Client, error) {
	const op = "cloudstore.NewClient"

	if !cfg.Configured() {
		return &Client{configured: false}, nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	cld.Config.URL.Secure = true
	return &Client{cld: cld, configured: true}, nil
}

func (c *Client) Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error) {
	if !c.configured {
		return nil, &StorageError{Message: "Cloud storage not configured. Please set the Cloudinary credentials."}
	}

	params := uploader.UploadParams{
		Folder:       opts.Folder,
		ResourceType: "image",
	}
	if opts.Format != "" {
		params.Format = opts.Format
	}

	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return nil, &StorageError{Message: fmt.Sprintf("Failed to upload image: %v", err), Err: err}
	}
	if resp.Error.Message != "" {
		return nil, &StorageError{Message: fmt.Sprintf("Failed to upload image: %s", resp.Error.Message)}
	}
	if resp.SecureURL == "" {
		return nil, &StorageError{Message: "Failed to upload image: no result"}
	}
	return &UploadResult{URL: resp.SecureURL, PublicID: resp.PublicID}, nil
}

// Destroy removes a blob and invalidates cached copies. Callers treat
// failures as non-fatal.
func (c *Client) Destroy(ctx context.Context, publicID string) error {
	if !c.configured {
		return &StorageError{Message: "Cloud storage not configured"}
	}

	_, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:   publicID,
		Invalidate: api.Bool(true),
	})
	if err != nil {
		return &StorageError{Message: fmt.Sprintf("Failed to destroy blob %s: %v", publicID, err), Err: err}
	}
	return nil
}
