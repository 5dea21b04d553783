package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mafutapass/receipts/internal/jobs"
)

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store)
	defer q.Close()

	var handled atomic.Int32
	handler := func(ctx context.Context, job jobs.Job) error {
		handled.Add(1)
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.EnhanceReceiptJob{ReceiptID: "r1"}
	if err := q.PublishEnhanceReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishEnhanceReceipt() error = %v", err)
	}

	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete")
	}

	if got := handled.Load(); got != 1 {
		t.Errorf("handled = %d, want 1", got)
	}

	stored, err := store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.Status != jobs.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", stored.Status)
	}
}

func TestQueue_DoneFiresOnlyAfterRetriesExhaust(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store)
	defer q.Close()

	var attempts atomic.Int32
	handler := func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return errors.New("model unavailable")
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.EnhanceReceiptJob{ReceiptID: "r1", MaxRetries: 1}
	if err := q.PublishEnhanceReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishEnhanceReceipt() error = %v", err)
	}

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached a terminal status")
	}

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want initial try plus one retry", got)
	}
	if job.Status != jobs.JobStatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := q.PublishEnhanceReceipt(context.Background(), &jobs.EnhanceReceiptJob{ReceiptID: "r1"})
	if err == nil {
		t.Error("PublishEnhanceReceipt() after close, want error")
	}
}

func TestStore_Filtering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for _, j := range []*jobs.EnhanceReceiptJob{
		{JobID: "1", ReceiptID: "r1", Status: jobs.JobStatusPending},
		{JobID: "2", ReceiptID: "r1", Status: jobs.JobStatusCompleted},
		{JobID: "3", ReceiptID: "r2", Status: jobs.JobStatusPending},
	} {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	byReceipt, err := store.ListJobs(ctx, jobs.JobFilter{ReceiptID: "r1"})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(byReceipt) != 2 {
		t.Errorf("ListJobs(receipt r1) = %d jobs, want 2", len(byReceipt))
	}

	pending, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("ListJobs(pending) = %d jobs, want 2", len(pending))
	}
}
