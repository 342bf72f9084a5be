package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jamesenh/novelgen/internal/errs"
)

func TestPool_RunsAllTasks(t *testing.T) {
	p := NewPool(2, nil)
	var count int32
	err := p.Run(context.Background(), 10, func(ctx context.Context, i int) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 10 {
		t.Errorf("expected 10 tasks run, got %d", count)
	}
}

func TestPool_StopsOnShutdownFlag(t *testing.T) {
	flag := NewShutdownFlag()
	p := NewPool(1, flag)

	err := p.Run(context.Background(), 10, func(ctx context.Context, i int) error {
		if i == 2 {
			flag.Trigger()
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected interruption error")
	}
	if _, ok := AsInterrupted(err); !ok {
		t.Fatalf("expected an Interrupted error, got %v", err)
	}
}

func TestPool_PropagatesFirstError(t *testing.T) {
	p := NewPool(4, nil)
	wantErr := fmt.Errorf("boom")
	err := p.Run(context.Background(), 5, func(ctx context.Context, i int) error {
		if i == 3 {
			return wantErr
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWithBackoff_RetriesTransientOnly(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), 3, func() error {
		attempts++
		if attempts < 2 {
			return errs.NewTransientError("test op", fmt.Errorf("temporary"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBackoff: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithBackoff_DoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	permanent := fmt.Errorf("permanent failure")
	err := WithBackoff(context.Background(), 3, func() error {
		attempts++
		return permanent
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-transient error, got %d", attempts)
	}
}
