package handlers_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/labelproof/labelproof/internal/api"
	"github.com/labelproof/labelproof/internal/api/handlers"
	"github.com/labelproof/labelproof/internal/crypto"
	"github.com/labelproof/labelproof/internal/queue"
	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/telemetry"
	"github.com/labelproof/labelproof/pkg/models"
)

type memBlobs struct {
	objects map[string][]byte
	err     error
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	if b.err != nil {
		return b.err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return nil
}

type fixture struct {
	store  *store.MemoryStore
	queue  *queue.Queue
	blobs  *memBlobs
	cipher *crypto.Cipher
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	q := queue.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	key := make([]byte, 32)
	rand.Read(key)
	cipher, err := crypto.New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}

	s := store.NewMemory()
	blobs := &memBlobs{}
	metrics := telemetry.New()
	h := handlers.New(s, q, blobs, cipher, metrics, "test")
	return &fixture{
		store:  s,
		queue:  q,
		blobs:  blobs,
		cipher: cipher,
		router: api.NewRouter(h, metrics),
	}
}

// jpegBytes returns a buffer of the given size starting with the JPEG
// magic number so content sniffing accepts it.
func jpegBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0xff, 0xd8, 0xff, 0xe0})
	return b
}

func multipartBody(t *testing.T, image []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if image != nil {
		part, err := w.CreateFormFile("image", "label.jpg")
		if err != nil {
			t.Fatalf("create image part: %v", err)
		}
		part.Write(image)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func submit(t *testing.T, f *fixture, image []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, image, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitLabelQueuesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := submit(t, f, jpegBytes(4096), map[string]string{
		"brand_name":   "Stone Creek Vineyards",
		"class_type":   "Cabernet Sauvignon",
		"expected_abv": "13.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp models.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.JobPending {
		t.Errorf("status = %q, want pending", resp.Status)
	}

	job, err := f.store.GetJob(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobPending {
		t.Errorf("stored status = %q", job.Status)
	}

	// Blob must be the encrypted image, decryptable back to the
	// original bytes.
	blob, ok := f.blobs.objects[job.ImageKey]
	if !ok {
		t.Fatalf("blob %q not stored", job.ImageKey)
	}
	plain, err := f.cipher.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt stored blob: %v", err)
	}
	if !bytes.Equal(plain, jpegBytes(4096)) {
		t.Error("decrypted blob does not match upload")
	}

	queued, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if queued == nil || queued.JobID != resp.JobID {
		t.Fatalf("queued job = %+v, want job %s", queued, resp.JobID)
	}
	if queued.ExpectedBrand == nil || *queued.ExpectedBrand != "Stone Creek Vineyards" {
		t.Errorf("expected brand not carried: %+v", queued.ExpectedBrand)
	}
	if queued.ExpectedABV == nil || *queued.ExpectedABV != 13.5 {
		t.Errorf("expected abv not carried: %+v", queued.ExpectedABV)
	}
}

func TestSubmitLabelSizeBounds(t *testing.T) {
	f := newFixture(t)

	// One byte under the minimum is rejected, the minimum passes.
	if rec := submit(t, f, jpegBytes(handlers.MinImageSize-1), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("1023 bytes: status = %d, want 400", rec.Code)
	}
	if rec := submit(t, f, jpegBytes(handlers.MinImageSize), nil); rec.Code != http.StatusOK {
		t.Errorf("1024 bytes: status = %d, want 200", rec.Code)
	}
	if rec := submit(t, f, jpegBytes(handlers.MaxImageSize+1), nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("over limit: status = %d, want 413", rec.Code)
	}
}

func TestSubmitLabelRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)

	pdf := make([]byte, 4096)
	copy(pdf, "%PDF-1.4")
	rec := submit(t, f, pdf, nil)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestSubmitLabelAcceptsPNGAndWebP(t *testing.T) {
	f := newFixture(t)

	png := make([]byte, 4096)
	copy(png, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	if rec := submit(t, f, png, nil); rec.Code != http.StatusOK {
		t.Errorf("png: status = %d, body %s", rec.Code, rec.Body.String())
	}

	webp := make([]byte, 4096)
	copy(webp, "RIFF")
	copy(webp[8:], "WEBPVP8 ")
	if rec := submit(t, f, webp, nil); rec.Code != http.StatusOK {
		t.Errorf("webp: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitLabelBadABV(t *testing.T) {
	f := newFixture(t)

	rec := submit(t, f, jpegBytes(4096), map[string]string{"expected_abv": "thirteen"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitLabelMissingImage(t *testing.T) {
	f := newFixture(t)

	rec := submit(t, f, nil, map[string]string{"brand_name": "Ghost"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitLabelBlobFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.err = errors.New("bucket unavailable")

	rec := submit(t, f, jpegBytes(4096), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if depth, _ := f.queue.Depth(context.Background()); depth != 0 {
		t.Errorf("queue depth = %d after failed upload", depth)
	}
}

func TestGetJobStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.store.CreateJob(ctx, "images/x.enc", nil)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/verify/%s", job.ID), nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp models.JobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != job.ID || resp.Status != models.JobPending {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetJobStatusNotFound(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verify/c2a7e1f0-0000-4000-8000-000000000000", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetJobStatusBadID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verify/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
	for _, name := range []string{"database", "redis"} {
		if _, ok := resp.Components[name]; !ok {
			t.Errorf("missing component %q", name)
		}
	}
}

func TestHealthRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	q := queue.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	key := make([]byte, 32)
	rand.Read(key)
	cipher, _ := crypto.New(base64.StdEncoding.EncodeToString(key))
	metrics := telemetry.New()
	h := handlers.New(store.NewMemory(), q, &memBlobs{}, cipher, metrics, "test")
	router := api.NewRouter(h, metrics)

	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestVersionEndpoint(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["version"] != "test" {
		t.Errorf("version = %q", resp["version"])
	}
}
