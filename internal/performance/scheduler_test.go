package performance_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/quizload/internal/performance"
)

type recordingFactory struct {
	mu        sync.Mutex
	ids       []int
	clients   []*http.Client
	behaviors []*stubBehavior
	wait      time.Duration
	err       error
}

func (f *recordingFactory) New(id int, client *http.Client) (performance.Behavior, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := &stubBehavior{wait: f.wait}
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.clients = append(f.clients, client)
	f.behaviors = append(f.behaviors, b)
	f.mu.Unlock()
	return b, nil
}

func TestDefaultHTTPClientConfig(t *testing.T) {
	cfg := performance.DefaultHTTPClientConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxIdleConnsPerHost != 100 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 100", cfg.MaxIdleConnsPerHost)
	}
	if !cfg.UseSharedClient {
		t.Error("UseSharedClient = false, want true")
	}
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	f := &recordingFactory{}
	s := performance.NewVUScheduler(f.New, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	vu1, err := s.SpawnVU()
	if err != nil {
		t.Fatalf("SpawnVU() error = %v", err)
	}
	vu2, _ := s.SpawnVU()

	if vu1.ID != 1 || vu2.ID != 2 {
		t.Errorf("IDs = %d, %d, want 1, 2", vu1.ID, vu2.ID)
	}
	if s.GetActiveVUCount() != 2 {
		t.Errorf("GetActiveVUCount() = %d, want 2", s.GetActiveVUCount())
	}
	if f.clients[0] != f.clients[1] {
		t.Error("shared client config produced distinct clients")
	}
}

func TestVUScheduler_SpawnVU_WithoutSharedClient(t *testing.T) {
	f := &recordingFactory{}
	cfg := performance.DefaultHTTPClientConfig()
	cfg.UseSharedClient = false
	s := performance.NewVUScheduler(f.New, cfg, nil)
	defer s.Shutdown(time.Second)

	_, _ = s.SpawnVU()
	_, _ = s.SpawnVU()

	if f.clients[0] == f.clients[1] {
		t.Error("expected a client per VU")
	}
	if f.clients[0].Timeout != cfg.Timeout {
		t.Errorf("client timeout = %v, want %v", f.clients[0].Timeout, cfg.Timeout)
	}
}

func TestVUScheduler_DisableKeepAlives(t *testing.T) {
	f := &recordingFactory{}
	cfg := performance.DefaultHTTPClientConfig()
	cfg.DisableKeepAlives = true
	s := performance.NewVUScheduler(f.New, cfg, nil)
	defer s.Shutdown(time.Second)

	_, _ = s.SpawnVU()

	transport, ok := f.clients[0].Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport = %T, want *http.Transport", f.clients[0].Transport)
	}
	if !transport.DisableKeepAlives {
		t.Error("DisableKeepAlives not applied to the transport")
	}
}

func TestVUScheduler_SpawnVU_FactoryError(t *testing.T) {
	f := &recordingFactory{err: errors.New("bad config")}
	s := performance.NewVUScheduler(f.New, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	if _, err := s.SpawnVU(); err == nil {
		t.Fatal("SpawnVU() error = nil, want factory error")
	}
	if s.GetActiveVUCount() != 0 {
		t.Errorf("GetActiveVUCount() = %d, want 0", s.GetActiveVUCount())
	}
}

func TestVUScheduler_RunVU(t *testing.T) {
	f := &recordingFactory{wait: time.Millisecond}
	s := performance.NewVUScheduler(f.New, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	vu, _ := s.SpawnVU()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var completed atomic.Int64
	s.RunVU(ctx, vu, func() { completed.Add(1) })

	calls := f.behaviors[0].Calls()
	if len(calls) < 2 {
		t.Fatalf("calls = %v, want start followed by iterations", calls)
	}
	if calls[0] != "start" {
		t.Errorf("first call = %q, want start", calls[0])
	}
	for i, c := range calls[1:] {
		if c != "iteration" {
			t.Errorf("call %d = %q, want iteration", i+1, c)
		}
	}
	if completed.Load() == 0 {
		t.Error("onIteration never called")
	}
	if vu.GetState() != performance.VUStateStopped {
		t.Errorf("state after RunVU = %v, want stopped", vu.GetState())
	}
}

func TestVUScheduler_RunVU_IterationErrorContinues(t *testing.T) {
	b := &stubBehavior{err: errors.New("flaky"), wait: time.Millisecond}
	factory := func(int, *http.Client) (performance.Behavior, error) { return b, nil }
	s := performance.NewVUScheduler(factory, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	vu, _ := s.SpawnVU()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var completed atomic.Int64
	s.RunVU(ctx, vu, func() { completed.Add(1) })

	if b.iterations.Load() < 2 {
		t.Errorf("iterations = %d, want the loop to keep going after errors", b.iterations.Load())
	}
	if completed.Load() != 0 {
		t.Errorf("onIteration called %d times for failed iterations", completed.Load())
	}
}

func TestVUScheduler_StopAllVUs(t *testing.T) {
	f := &recordingFactory{wait: time.Hour}
	s := performance.NewVUScheduler(f.New, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		vu, _ := s.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunVU(context.Background(), vu, nil)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	s.StopAllVUs()

	wg.Wait()

	if s.GetActiveVUCount() != 0 {
		t.Errorf("GetActiveVUCount() = %d, want 0", s.GetActiveVUCount())
	}
}

func TestVUScheduler_Shutdown(t *testing.T) {
	block := make(chan struct{})
	b := &stubBehavior{block: block}
	factory := func(int, *http.Client) (performance.Behavior, error) { return b, nil }
	s := performance.NewVUScheduler(factory, performance.DefaultHTTPClientConfig(), nil)

	vu, _ := s.SpawnVU()
	done := make(chan struct{})
	go func() {
		s.RunVU(context.Background(), vu, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(block)
	s.Shutdown(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunVU did not return after Shutdown")
	}
	if vu.GetState() != performance.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
}

func TestVUScheduler_ConcurrentSpawn(t *testing.T) {
	f := &recordingFactory{}
	s := performance.NewVUScheduler(f.New, performance.DefaultHTTPClientConfig(), nil)
	defer s.Shutdown(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SpawnVU(); err != nil {
				t.Errorf("SpawnVU() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if s.GetActiveVUCount() != 50 {
		t.Errorf("GetActiveVUCount() = %d, want 50", s.GetActiveVUCount())
	}

	seen := make(map[int]bool)
	for _, id := range f.ids {
		if seen[id] {
			t.Errorf("duplicate VU id %d", id)
		}
		seen[id] = true
	}
}
