package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/manthysbr/censord/internal/core/domain"
)

type MockWorkerClient struct {
	mock.Mock
}

func (m *MockWorkerClient) Process(ctx context.Context, addr domain.WorkerAddress, text string, insults []string) (string, error) {
	args := m.Called(ctx, addr, text, insults)
	return args.String(0), args.Error(1)
}

// filteringClient runs FilterText locally and records which worker got each text.
type filteringClient struct {
	mu    sync.Mutex
	calls []domain.WorkerAddress
	down  map[domain.WorkerAddress]bool
}

func newFilteringClient() *filteringClient {
	return &filteringClient{down: make(map[domain.WorkerAddress]bool)}
}

func (c *filteringClient) Process(_ context.Context, addr domain.WorkerAddress, text string, insults []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, addr)
	if c.down[addr] {
		return "", fmt.Errorf("dial %s: connection refused: %w", addr, domain.ErrWorkerUnreachable)
	}
	return FilterText(text, domain.NewInsultSet(insults...)), nil
}

func (c *filteringClient) setDown(addr domain.WorkerAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[addr] = true
}

func (c *filteringClient) served() []domain.WorkerAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.WorkerAddress(nil), c.calls...)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) AppendResult(ctx context.Context, r domain.Result) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockJournal) ListResults(ctx context.Context) ([]domain.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Result), args.Error(1)
}

func (m *MockJournal) ClearResults(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fakeRuntime hands out sequential process ids and remembers what was stopped.
type fakeRuntime struct {
	mu        sync.Mutex
	next      int
	alive     map[domain.ProcessID]bool
	stopped   []domain.ProcessID
	startErr  error
	stopErr   error
	aliveErr  error
	startedAt time.Time
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{alive: make(map[domain.ProcessID]bool)}
}

func (r *fakeRuntime) Start(context.Context) (domain.WorkerProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return domain.WorkerProcess{}, r.startErr
	}
	r.next++
	id := domain.ProcessID(fmt.Sprintf("w-%d", r.next))
	r.alive[id] = true
	return domain.WorkerProcess{ID: id, Runtime: "fake", PID: 1000 + r.next, StartedAt: r.startedAt}, nil
}

func (r *fakeRuntime) Stop(_ context.Context, id domain.ProcessID, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopErr != nil {
		return r.stopErr
	}
	r.alive[id] = false
	r.stopped = append(r.stopped, id)
	return nil
}

func (r *fakeRuntime) Alive(_ context.Context, id domain.ProcessID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aliveErr != nil {
		return false, r.aliveErr
	}
	return r.alive[id], nil
}

func (r *fakeRuntime) kill(id domain.ProcessID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[id] = false
}

func (r *fakeRuntime) stoppedIDs() []domain.ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProcessID(nil), r.stopped...)
}

// staticBacklog reports a fixed backlog, or err.
type staticBacklog struct {
	mu      sync.Mutex
	backlog int
	err     error
}

func (o *staticBacklog) BacklogDepth(context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.backlog, o.err
}

func (o *staticBacklog) set(backlog int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backlog, o.err = backlog, err
}

// gatedClient blocks calls to one worker until release is closed.
type gatedClient struct {
	gated   domain.WorkerAddress
	entered chan struct{}
	release chan struct{}
}

func newGatedClient(gated domain.WorkerAddress) *gatedClient {
	return &gatedClient{
		gated:   gated,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (c *gatedClient) Process(ctx context.Context, addr domain.WorkerAddress, text string, insults []string) (string, error) {
	if addr == c.gated {
		c.entered <- struct{}{}
		select {
		case <-c.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return FilterText(text, domain.NewInsultSet(insults...)), nil
}
