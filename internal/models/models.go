// internal/models/models.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ImageAsset. Transition rules live
// in CanStartProcessing and the pipeline; nothing else writes status
// values.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
	StatusDeleted    Status = "DELETED"
)

// CanStartProcessing reports whether a process request may claim the
// asset. Only freshly uploaded and previously failed assets qualify.
func (s Status) CanStartProcessing() bool {
	return s == StatusUploaded || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// ProviderRemoveBG is the only background-removal provider this system
// talks to. Kept as a column so each record stays self-describing.
const ProviderRemoveBG = "REMOVEBG"

// ImageAsset is one uploaded image and its derived, background-stripped
// and mirrored counterpart.
type ImageAsset struct {
	ImageID           string    `json:"image_id" db:"image_id"`
	UserID            string    `json:"user_id" db:"user_id"`
	OriginalFilename  string    `json:"original_filename" db:"original_filename"`
	OriginalMimeType  string    `json:"original_mime_type" db:"original_mime_type"`
	OriginalSizeBytes int64     `json:"original_size_bytes" db:"original_size_bytes"`
	OriginalWidth     *int      `json:"original_width" db:"original_width"`
	OriginalHeight    *int      `json:"original_height" db:"original_height"`
	Status            Status    `json:"status" db:"status"`
	Provider          string    `json:"provider" db:"provider"`
	OriginalURL       string    `json:"original_url" db:"original_url"`
	OriginalPublicID  string    `json:"original_public_id" db:"original_public_id"`
	ProcessedURL      *string   `json:"processed_url" db:"processed_url"`
	ProcessedPublicID *string   `json:"processed_public_id" db:"processed_public_id"`
	ErrorMessage      *string   `json:"error_message" db:"error_message"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type User struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Picture   string    `json:"picture" db:"picture"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UserSession struct {
	SessionToken string    `json:"session_token" db:"session_token"`
	UserID       string    `json:"user_id" db:"user_id"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type UploadResponse struct {
	ImageID string `json:"image_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type ProcessResponse struct {
	ImageID      string  `json:"image_id"`
	Status       Status  `json:"status"`
	ProcessedURL *string `json:"processed_url"`
	Message      string  `json:"message"`
}

type ListResponse struct {
	Items []ImageAsset `json:"items"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type SessionResponse struct {
	Success bool  `json:"success"`
	User    *User `json:"user"`
}

type MeResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewImageID returns an identifier of the form img_<12 hex chars>.
func NewImageID() string {
	return "img_" + compactUUID()[:12]
}

func NewUserID() string {
	return "user_" + compactUUID()[:12]
}

func NewSessionToken() string {
	return "sess_" + compactUUID()
}
