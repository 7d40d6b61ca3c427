package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewPools(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	if pools.Ingest == nil || pools.Archive == nil {
		t.Fatal("pools must be initialized")
	}
	if pools.Ingest.Name() != PoolIngest {
		t.Errorf("Ingest.Name() = %q", pools.Ingest.Name())
	}
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{IngestPoolSize: 4, ArchivePoolSize: 1})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := pools.Ingest.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			executed.Add(1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if got := executed.Load(); got != 10 {
		t.Errorf("executed = %d, want 10", got)
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pools.Ingest.Submit(ctx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestPools_SubmitDetached(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	done := make(chan struct{})
	if err := pools.SubmitDetached(PoolArchive, func(ctx context.Context) {
		if ctx.Err() != nil {
			t.Error("detached ctx should be live")
		}
		close(done)
	}); err != nil {
		t.Fatalf("SubmitDetached() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("detached task did not run")
	}
}

func TestPools_SubmitAfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	pools.Shutdown()

	err = pools.Ingest.Submit(context.Background(), func(context.Context) {})
	if err != ErrPoolClosed {
		t.Errorf("Submit() after shutdown = %v, want ErrPoolClosed", err)
	}
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{IngestPoolSize: 3, ArchivePoolSize: 2})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	m := pools.Metrics()
	ingest, ok := m[PoolIngest].(map[string]int)
	if !ok {
		t.Fatalf("metrics[%q] type = %T", PoolIngest, m[PoolIngest])
	}
	if ingest["cap"] != 3 {
		t.Errorf("ingest cap = %d, want 3", ingest["cap"])
	}
}
