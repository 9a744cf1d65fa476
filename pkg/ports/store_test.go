package ports_test

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

// MockStore is a minimal RunStore used to check the contract suite itself.
type MockStore struct {
	mu   sync.Mutex
	data map[string]domain.RunRecord
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]domain.RunRecord),
	}
}

func (m *MockStore) Save(ctx context.Context, run *domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[run.ID] = *run
	return nil
}

func (m *MockStore) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.data[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

func (m *MockStore) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, runID)
	return nil
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]domain.RunRecord, 0, len(m.data))
	for _, r := range m.data {
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b domain.RunRecord) int { return b.StartedAt.Compare(a.StartedAt) })
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids, nil
}

func TestRunStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, NewMockStore())
}

func TestAdapters(t *testing.T) {
	var got string
	var sink ports.StatusSink = ports.StatusSinkFunc(func(msg string) { got = msg })
	sink.Status("feeder 3 empty")
	if got != "feeder 3 empty" {
		t.Errorf("Expected status to be forwarded, got %q", got)
	}

	enabled := false
	var gate ports.ReadinessGate = ports.GateFunc(func() bool { return enabled })
	if gate.Enabled() {
		t.Error("Expected gate disabled")
	}
	enabled = true
	if !gate.Enabled() {
		t.Error("Expected gate enabled")
	}
}
