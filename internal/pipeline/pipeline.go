// internal/pipeline/pipeline.go
//
// Pipeline drives an asset through upload, background removal,
// horizontal flip and storage of the derived image. It owns every
// status transition; handlers and storage never change status on their
// own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"flipcut/internal/cloudstore"
	"flipcut/internal/events"
	"flipcut/internal/imageops"
	"flipcut/internal/models"
	"flipcut/internal/storage"
)

const (
	MaxUploadBytes = 8 << 20 // 8 MiB
	listLimit      = 1000
)

var allowedMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

var (
	// ErrNotFound covers both a missing asset and one owned by another
	// user; callers cannot tell the two apart.
	ErrNotFound = storage.ErrNotFound

	// ErrAlreadyProcessing means another request holds the processing
	// claim for this asset.
	ErrAlreadyProcessing = errors.New("image is currently being processed")
)

// ValidationError rejects an upload before anything is persisted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// TransformError marks a malformed image that could not be flipped.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string { return fmt.Sprintf("Failed to transform image: %v", e.Err) }
func (e *TransformError) Unwrap() error { return e.Err }

// Store is the slice of the asset store the pipeline needs.
type Store interface {
	CreateImage(ctx context.Context, img *models.ImageAsset) error
	GetImage(ctx context.Context, userID, imageID string) (*models.ImageAsset, error)
	ListActiveImages(ctx context.Context, userID string, limit int) ([]models.ImageAsset, error)
	UpdateImageFields(ctx context.Context, userID, imageID string, fields map[string]any) error
	ClaimProcessing(ctx context.Context, userID, imageID string) (bool, error)
	SoftDeleteImage(ctx context.Context, userID, imageID string) error
}

type ObjectStore interface {
	Upload(ctx context.Context, data []byte, opts cloudstore.UploadOptions) (*cloudstore.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

type Remover interface {
	RemoveBackground(ctx context.Context, imageURL string) ([]byte, error)
}

type Pipeline struct {
	store   Store
	objects ObjectStore
	remover Remover
	events  events.Publisher
}

func New(store Store, objects ObjectStore, remover Remover, publisher events.Publisher) *Pipeline {
	return &Pipeline{
		store:   store,
		objects: objects,
		remover: remover,
		events:  publisher,
	}
}

type UploadInput struct {
	Filename string
	MimeType string
	Data     []byte
}

func originalsFolder(userID string) string { return fmt.Sprintf("flipcut/%s/originals", userID) }
func processedFolder(userID string) string { return fmt.Sprintf("flipcut/%s/processed", userID) }

// Upload validates the file, stores the original blob and persists a
// new UPLOADED asset. Validation happens before any side effect; a
// storage failure leaves no record behind. Processing is never
// triggered here.
func (p *Pipeline) Upload(ctx context.Context, userID string, in UploadInput) (*models.UploadResponse, error) {
	if !allowedMimeTypes[in.MimeType] {
		return nil, &ValidationError{
			Message: "Invalid file type. Allowed: image/png, image/jpeg, image/webp",
		}
	}
	if int64(len(in.Data)) > MaxUploadBytes {
		return nil, &ValidationError{
			Message: fmt.Sprintf("File too large. Maximum size: %dMB", MaxUploadBytes/(1<<20)),
		}
	}

	var width, height *int
	if w, h, ok := imageops.Dimensions(in.Data); ok {
		width, height = &w, &h
	} else {
		log.Printf("pipeline.Upload: could not read dimensions for %q", in.Filename)
	}

	uploaded, err := p.objects.Upload(ctx, in.Data, cloudstore.UploadOptions{
		Folder: originalsFolder(userID),
	})
	if err != nil {
		return nil, err
	}

	filename := in.Filename
	if filename == "" {
		filename = "uploaded_image"
	}

	now := time.Now().UTC()
	img := &models.ImageAsset{
		ImageID:           models.NewImageID(),
		UserID:            userID,
		OriginalFilename:  filename,
		OriginalMimeType:  in.MimeType,
		OriginalSizeBytes: int64(len(in.Data)),
		OriginalWidth:     width,
		OriginalHeight:    height,
		Status:            models.StatusUploaded,
		Provider:          models.ProviderRemoveBG,
		OriginalURL:       uploaded.URL,
		OriginalPublicID:  uploaded.PublicID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.store.CreateImage(ctx, img); err != nil {
		return nil, err
	}
	p.publish(ctx, img.ImageID, userID, models.StatusUploaded)

	return &models.UploadResponse{
		ImageID: img.ImageID,
		Status:  models.StatusUploaded,
		Message: "Image uploaded successfully. Ready for processing.",
	}, nil
}

// Process runs the background-removal pipeline for one asset.
//
// The PROCESSING claim is a conditional update committed before any
// remote call, so at most one concurrent run per asset exists no matter
// how many processes serve requests. Every failure past the claim ends
// in FAILED with a message; the asset is never left in PROCESSING.
func (p *Pipeline) Process(ctx context.Context, userID, imageID string) (*models.ProcessResponse, error) {
	img, err := p.store.GetImage(ctx, userID, imageID)
	if err != nil {
		return nil, err
	}

	switch img.Status {
	case models.StatusProcessed:
		// Idempotent re-invocation: no provider calls.
		return &models.ProcessResponse{
			ImageID:      imageID,
			Status:       models.StatusProcessed,
			ProcessedURL: img.ProcessedURL,
			Message:      "Image already processed",
		}, nil
	case models.StatusProcessing:
		return nil, ErrAlreadyProcessing
	case models.StatusDeleted:
		return nil, ErrNotFound
	}

	claimed, err := p.store.ClaimProcessing(ctx, userID, imageID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race. Re-read to see who won.
		current, err := p.store.GetImage(ctx, userID, imageID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusProcessed {
			return &models.ProcessResponse{
				ImageID:      imageID,
				Status:       models.StatusProcessed,
				ProcessedURL: current.ProcessedURL,
				Message:      "Image already processed",
			}, nil
		}
		return nil, ErrAlreadyProcessing
	}
	p.publish(ctx, imageID, userID, models.StatusProcessing)

	cutout, err := p.remover.RemoveBackground(ctx, img.OriginalURL)
	if err != nil {
		p.fail(ctx, userID, imageID, err.Error())
		return nil, err
	}

	flipped, err := imageops.FlipHorizontal(cutout)
	if err != nil {
		terr := &TransformError{Err: err}
		p.fail(ctx, userID, imageID, terr.Error())
		return nil, terr
	}

	uploaded, err := p.objects.Upload(ctx, flipped, cloudstore.UploadOptions{
		Folder: processedFolder(userID),
		Format: "png",
	})
	if err != nil {
		p.fail(ctx, userID, imageID, "Failed to upload processed image")
		return nil, err
	}

	err = p.store.UpdateImageFields(ctx, userID, imageID, map[string]any{
		"status":              models.StatusProcessed,
		"processed_url":       uploaded.URL,
		"processed_public_id": uploaded.PublicID,
		"error_message":       nil,
	})
	if err != nil {
		p.fail(ctx, userID, imageID, "Failed to record processed image")
		return nil, err
	}
	p.publish(ctx, imageID, userID, models.StatusProcessed)

	return &models.ProcessResponse{
		ImageID:      imageID,
		Status:       models.StatusProcessed,
		ProcessedURL: &uploaded.URL,
		Message:      "Image processed successfully",
	}, nil
}

func (p *Pipeline) List(ctx context.Context, userID string) (*models.ListResponse, error) {
	items, err := p.store.ListActiveImages(ctx, userID, listLimit)
	if err != nil {
		return nil, err
	}
	return &models.ListResponse{Items: items}, nil
}

func (p *Pipeline) Get(ctx context.Context, userID, imageID string) (*models.ImageAsset, error) {
	return p.store.GetImage(ctx, userID, imageID)
}

// Delete destroys the backing blobs best effort and soft-deletes the
// record. Blob removal failures are logged, never surfaced: logical
// deletion must succeed regardless of the remote store.
func (p *Pipeline) Delete(ctx context.Context, userID, imageID string) (*models.DeleteResponse, error) {
	img, err := p.store.GetImage(ctx, userID, imageID)
	if err != nil {
		return nil, err
	}

	if img.OriginalPublicID != "" {
		if err := p.objects.Destroy(ctx, img.OriginalPublicID); err != nil {
			log.Printf("pipeline.Delete: destroy original: %v", err)
		}
	}
	if img.ProcessedPublicID != nil && *img.ProcessedPublicID != "" {
		if err := p.objects.Destroy(ctx, *img.ProcessedPublicID); err != nil {
			log.Printf("pipeline.Delete: destroy processed: %v", err)
		}
	}

	if err := p.store.SoftDeleteImage(ctx, userID, imageID); err != nil {
		return nil, err
	}
	p.publish(ctx, imageID, userID, models.StatusDeleted)

	return &models.DeleteResponse{Success: true, Message: "Image deleted successfully"}, nil
}

// fail records a terminal FAILED state with a human-readable cause.
// Partial artifacts (the stored original, any produced blobs) stay in
// place so a later process call can retry.
func (p *Pipeline) fail(ctx context.Context, userID, imageID, message string) {
	err := p.store.UpdateImageFields(ctx, userID, imageID, map[string]any{
		"status":        models.StatusFailed,
		"error_message": message,
	})
	if err != nil {
		log.Printf("pipeline.fail: %s: %v", imageID, err)
	}
	p.publish(ctx, imageID, userID, models.StatusFailed)
}

func (p *Pipeline) publish(ctx context.Context, imageID, userID string, status models.Status) {
	p.events.Publish(ctx, events.Event{
		ImageID: imageID,
		UserID:  userID,
		Status:  status,
		At:      time.Now().UTC(),
	})
}
