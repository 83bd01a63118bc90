package worker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/labelproof/labelproof/internal/crypto"
	"github.com/labelproof/labelproof/internal/queue"
	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/verify"
	"github.com/labelproof/labelproof/pkg/models"
)

// countingQueue wraps the real queue and tallies operations.
type countingQueue struct {
	*queue.Queue
	dequeues  int
	completes int
	enqueues  int
}

func (q *countingQueue) Dequeue(ctx context.Context) (*models.QueuedJob, error) {
	job, err := q.Queue.Dequeue(ctx)
	if job != nil {
		q.dequeues++
	}
	return job, err
}

func (q *countingQueue) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	q.enqueues++
	return q.Queue.Enqueue(ctx, job)
}

func (q *countingQueue) Complete(ctx context.Context, job *models.QueuedJob) error {
	q.completes++
	return q.Queue.Complete(ctx, job)
}

type mapBlobs map[string][]byte

func (m mapBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

// scriptedExtractor fails a fixed number of times before succeeding.
type scriptedExtractor struct {
	failures int
	calls    int
	fields   models.ExtractedLabelFields
}

func (s *scriptedExtractor) Extract(context.Context, []byte) (models.ExtractedLabelFields, error) {
	s.calls++
	if s.calls <= s.failures {
		return models.ExtractedLabelFields{}, errors.New("model overloaded")
	}
	return s.fields, nil
}

type fixture struct {
	worker *Worker
	store  *store.MemoryStore
	queue  *countingQueue
	vision *scriptedExtractor
	cipher *crypto.Cipher
	blobs  mapBlobs
}

func newFixture(t *testing.T, visionFailures int) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	q := queue.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	cq := &countingQueue{Queue: q}

	key := make([]byte, 32)
	rand.Read(key)
	cipher, err := crypto.New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}

	s := store.NewMemory()
	vision := &scriptedExtractor{
		failures: visionFailures,
		fields: models.ExtractedLabelFields{
			BrandName:   "Stone Creek Vineyards",
			ClassType:   "Cabernet Sauvignon",
			ABV:         13.5,
			NetContents: "750 mL",
		},
	}
	blobs := mapBlobs{}
	engine := verify.New(s, nil)

	return &fixture{
		worker: New(s, cq, blobs, cipher, vision, engine, nil),
		store:  s,
		queue:  cq,
		vision: vision,
		cipher: cipher,
		blobs:  blobs,
	}
}

// submit creates a job row, stores an encrypted blob, and enqueues the
// payload, the way intake does.
func (f *fixture) submit(t *testing.T, image []byte) *models.QueuedJob {
	t.Helper()
	ctx := context.Background()

	encrypted, err := f.cipher.Encrypt(image)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	job, err := f.store.CreateJob(ctx, "", nil)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	imageKey := fmt.Sprintf("images/%s.enc", job.ID)
	f.blobs[imageKey] = encrypted

	payload := &models.QueuedJob{JobID: job.ID, ImageKey: imageKey}
	if err := f.queue.Queue.Enqueue(ctx, payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return payload
}

func TestProcessNextHappyPath(t *testing.T) {
	f := newFixture(t, 0)
	payload := f.submit(t, []byte("label image bytes"))
	ctx := context.Background()

	processed, err := f.worker.ProcessNext(ctx)
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}

	job, err := f.store.GetJob(ctx, payload.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.Result == nil {
		t.Fatal("verification result not persisted")
	}
	if job.ProcessingStartedAt == nil || job.ProcessingCompletedAt == nil {
		t.Error("processing timestamps not stamped")
	}
	if job.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", job.RetryCount)
	}

	if depth, _ := f.queue.Queue.Depth(ctx); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
	if inflight, _ := f.queue.Queue.InFlight(ctx); inflight != 0 {
		t.Errorf("in-flight = %d, want 0", inflight)
	}
}

func TestProcessNextEmptyQueue(t *testing.T) {
	f := newFixture(t, 0)
	processed, err := f.worker.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if processed {
		t.Error("no job should be processed on an empty queue")
	}
}

func TestProcessNextRetriesThenSucceeds(t *testing.T) {
	// Vision fails twice; the third attempt succeeds.
	f := newFixture(t, 2)
	payload := f.submit(t, []byte("label image bytes"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		processed, err := f.worker.ProcessNext(ctx)
		if err != nil {
			t.Fatalf("ProcessNext attempt %d: %v", i+1, err)
		}
		if !processed {
			t.Fatalf("attempt %d found no job", i+1)
		}
	}

	job, err := f.store.GetJob(ctx, payload.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", job.RetryCount)
	}
	if f.queue.dequeues != 3 || f.queue.completes != 3 {
		t.Errorf("dequeues = %d, completes = %d, want 3 each", f.queue.dequeues, f.queue.completes)
	}
	if f.queue.enqueues != 2 {
		t.Errorf("re-enqueues = %d, want 2", f.queue.enqueues)
	}
}

func TestProcessNextFailsAfterMaxRetries(t *testing.T) {
	f := newFixture(t, 10) // vision never succeeds
	payload := f.submit(t, []byte("label image bytes"))
	ctx := context.Background()

	for i := 0; i < MaxRetries; i++ {
		if _, err := f.worker.ProcessNext(ctx); err != nil {
			t.Fatalf("ProcessNext attempt %d: %v", i+1, err)
		}
	}

	job, err := f.store.GetJob(ctx, payload.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.RetryCount != MaxRetries {
		t.Errorf("retry count = %d, want %d", job.RetryCount, MaxRetries)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "Processing failed after 3 retries") {
		t.Errorf("error = %v", job.Error)
	}

	if depth, _ := f.queue.Queue.Depth(ctx); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
	if inflight, _ := f.queue.Queue.InFlight(ctx); inflight != 0 {
		t.Errorf("in-flight = %d, want 0", inflight)
	}

	// Terminal job must not be picked up again.
	if processed, _ := f.worker.ProcessNext(ctx); processed {
		t.Error("failed job should not be re-processed")
	}
}

func TestProcessNextDecryptFailureIsPermanent(t *testing.T) {
	f := newFixture(t, 0)
	payload := f.submit(t, []byte("label image bytes"))
	ctx := context.Background()

	// Corrupt the stored blob so decryption cannot succeed.
	f.blobs[payload.ImageKey] = []byte("garbage that is not a valid blob")

	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	job, err := f.store.GetJob(ctx, payload.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 for a permanent failure", job.RetryCount)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "permanently") {
		t.Errorf("error = %v", job.Error)
	}
	if depth, _ := f.queue.Queue.Depth(ctx); depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	f.worker.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
