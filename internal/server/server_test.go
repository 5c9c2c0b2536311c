package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"flipcut/internal/auth"
	"flipcut/internal/cloudstore"
	"flipcut/internal/events"
	"flipcut/internal/models"
	"flipcut/internal/pipeline"
	"flipcut/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBackend implements pipeline.Store and auth.SessionStore in one
// map-backed fake.
type fakeBackend struct {
	mu       sync.Mutex
	images   map[string]*models.ImageAsset
	users    map[string]*models.User
	sessions map[string]*models.UserSession
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		images:   make(map[string]*models.ImageAsset),
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.UserSession),
	}
}

func (f *fakeBackend) CreateImage(_ context.Context, img *models.ImageAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[img.ImageID] = img
	return nil
}

func (f *fakeBackend) GetImage(_ context.Context, userID, imageID string) (*models.ImageAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok || img.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (f *fakeBackend) ListActiveImages(_ context.Context, userID string, limit int) ([]models.ImageAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]models.ImageAsset, 0)
	for _, img := range f.images {
		if img.UserID == userID && img.Status != models.StatusDeleted {
			items = append(items, *img)
		}
	}
	return items, nil
}

func (f *fakeBackend) UpdateImageFields(_ context.Context, userID, imageID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok || img.UserID != userID {
		return storage.ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "status":
			img.Status = val.(models.Status)
		case "processed_url":
			img.ProcessedURL = toPtr(val)
		case "processed_public_id":
			img.ProcessedPublicID = toPtr(val)
		case "error_message":
			img.ErrorMessage = toPtr(val)
		}
	}
	return nil
}

func toPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

func (f *fakeBackend) ClaimProcessing(_ context.Context, userID, imageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok || img.UserID != userID || !img.Status.CanStartProcessing() {
		return false, nil
	}
	img.Status = models.StatusProcessing
	img.ErrorMessage = nil
	return true, nil
}

func (f *fakeBackend) SoftDeleteImage(_ context.Context, userID, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok || img.UserID != userID {
		return storage.ErrNotFound
	}
	img.Status = models.StatusDeleted
	return nil
}

func (f *fakeBackend) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeBackend) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeBackend) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UserID] = u
	return nil
}

func (f *fakeBackend) ReplaceSession(_ context.Context, sess *models.UserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.SessionToken] = sess
	return nil
}

func (f *fakeBackend) GetSession(_ context.Context, token string) (*models.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

type stubObjects struct{}

func (stubObjects) Upload(_ context.Context, _ []byte, _ cloudstore.UploadOptions) (*cloudstore.UploadResult, error) {
	return &cloudstore.UploadResult{URL: "https://cdn.example/x.png", PublicID: "pub_x"}, nil
}

func (stubObjects) Destroy(context.Context, string) error { return nil }

type stubRemover struct {
	result []byte
	err    error
}

func (s *stubRemover) RemoveBackground(context.Context, string) ([]byte, error) {
	return s.result, s.err
}

const testToken = "sess_test"

func newTestServer(t *testing.T) (*Server, *fakeBackend, *stubRemover) {
	t.Helper()
	backend := newFakeBackend()
	backend.users["user_test"] = &models.User{UserID: "user_test", Email: "t@example.com", Name: "Tester"}
	backend.sessions[testToken] = &models.UserSession{
		SessionToken: testToken,
		UserID:       "user_test",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	remover := &stubRemover{}
	pl := pipeline.New(backend, stubObjects{}, remover, events.NewPublisher("", ""))
	authSvc := auth.NewService(backend, "http://broker.invalid")

	cfg := &models.Config{
		ServerAddr:    ":0",
		DatabaseURL:   "unused",
		AuthBrokerURL: "http://broker.invalid",
		CORSOrigins:   []string{"http://localhost:3000"},
	}
	return NewServer(cfg, pl, authSvc), backend, remover
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func multipartPNG(t *testing.T, fieldName, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	w.Close()
	return &body, w.FormDataContentType()
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestImagesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/images"},
		{http.MethodPost, "/api/images/upload"},
		{http.MethodPost, "/api/images/img_x/process"},
		{http.MethodDelete, "/api/images/img_x"},
	}
	for _, p := range paths {
		rec := doRequest(srv, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestUpload_RejectsGif(t *testing.T) {
	srv, backend, _ := newTestServer(t)

	body, contentType := multipartPNG(t, "file", "anim.gif", "image/gif", []byte("GIF89a"))
	req := authed(httptest.NewRequest(http.MethodPost, "/api/images/upload", body))
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if len(backend.images) != 0 {
		t.Error("record created for rejected upload")
	}
}

func TestUpload_MissingFile(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("other", "x")
	w.Close()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/images/upload", &body))
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := doRequest(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadThenListAndGet(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, contentType := multipartPNG(t, "file", "photo.png", "image/png", smallPNG(t))
	req := authed(httptest.NewRequest(http.MethodPost, "/api/images/upload", body))
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	var uploaded models.UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &uploaded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if uploaded.Status != models.StatusUploaded {
		t.Errorf("status = %s", uploaded.Status)
	}

	rec = doRequest(srv, authed(httptest.NewRequest(http.MethodGet, "/api/images", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list models.ListResponse
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 1 {
		t.Fatalf("listed %d items, want 1", len(list.Items))
	}

	rec = doRequest(srv, authed(httptest.NewRequest(http.MethodGet, "/api/images/"+uploaded.ImageID, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestProcess_HTTPStatusMapping(t *testing.T) {
	srv, backend, remover := newTestServer(t)
	remover.result = smallPNG(t)

	seed := func(status models.Status) string {
		id := models.NewImageID()
		backend.images[id] = &models.ImageAsset{
			ImageID:     id,
			UserID:      "user_test",
			Status:      status,
			Provider:    models.ProviderRemoveBG,
			OriginalURL: "https://cdn.example/orig.png",
		}
		return id
	}

	t.Run("unknown image is 404", func(t *testing.T) {
		rec := doRequest(srv, authed(httptest.NewRequest(http.MethodPost, "/api/images/img_missing/process", nil)))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("processing image is 409", func(t *testing.T) {
		id := seed(models.StatusProcessing)
		rec := doRequest(srv, authed(httptest.NewRequest(http.MethodPost, "/api/images/"+id+"/process", nil)))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("uploaded image processes to 200", func(t *testing.T) {
		id := seed(models.StatusUploaded)
		rec := doRequest(srv, authed(httptest.NewRequest(http.MethodPost, "/api/images/"+id+"/process", nil)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var resp models.ProcessResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Status != models.StatusProcessed {
			t.Errorf("status = %s", resp.Status)
		}
		if resp.ProcessedURL == nil || *resp.ProcessedURL != "https://cdn.example/x.png" {
			t.Errorf("processed_url = %v", resp.ProcessedURL)
		}
	})
}

func TestDelete_HTTP(t *testing.T) {
	srv, backend, _ := newTestServer(t)
	id := models.NewImageID()
	backend.images[id] = &models.ImageAsset{
		ImageID:          id,
		UserID:           "user_test",
		Status:           models.StatusUploaded,
		OriginalPublicID: "pub_orig",
	}

	rec := doRequest(srv, authed(httptest.NewRequest(http.MethodDelete, "/api/images/"+id, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.DeleteResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("success = false")
	}
	if backend.images[id].Status != models.StatusDeleted {
		t.Errorf("status = %s, want DELETED", backend.images[id].Status)
	}
}
