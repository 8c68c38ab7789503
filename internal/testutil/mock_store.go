package testutil

import (
	"context"
	"sync"

	"github.com/clicker-leaderboard/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListTop(ctx context.Context, limit int) ([]domain.PlayerRecord, error) {
	args := m.Called(ctx, limit)
	records, _ := args.Get(0).([]domain.PlayerRecord)
	return records, args.Error(1)
}

func (m *MockStore) GetByIdentity(ctx context.Context, identity string) (*domain.RankedRecord, error) {
	args := m.Called(ctx, identity)
	record, _ := args.Get(0).(*domain.RankedRecord)
	return record, args.Error(1)
}

func (m *MockStore) MergeUpsert(ctx context.Context, identity string, snapshot domain.ScoreSnapshot) (*domain.PlayerRecord, error) {
	args := m.Called(ctx, identity, snapshot)
	record, _ := args.Get(0).(*domain.PlayerRecord)
	return record, args.Error(1)
}

func (m *MockStore) DeleteByIdentity(ctx context.Context, identity string) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// RecordingHub captures live broadcasts
type RecordingHub struct {
	mu      sync.Mutex
	Online  []int
	Updates []domain.PlayerRecord
}

func (h *RecordingHub) BroadcastOnline(online int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Online = append(h.Online, online)
}

func (h *RecordingHub) BroadcastPlayerUpdate(record domain.PlayerRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Updates = append(h.Updates, record)
}

func (h *RecordingHub) OnlineCounts() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.Online...)
}

func (h *RecordingHub) PlayerUpdates() []domain.PlayerRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.PlayerRecord(nil), h.Updates...)
}
