package items

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/auctionlab/paddle/pkg/database"
	"github.com/auctionlab/paddle/pkg/dlock"
	"github.com/auctionlab/paddle/pkg/events"
)

type mockTx struct {
	mock.Mock
}

func (m *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	m.Called(ctx)
	return nil
}

type mockTxManager struct {
	mock.Mock
}

func (m *mockTxManager) BeginTx(ctx context.Context) (database.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(database.Tx), args.Error(1)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateItem(ctx context.Context, item *Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockRepo) GetItemByID(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Item), args.Error(1)
}

func (m *mockRepo) GetItemByIDForUpdate(ctx context.Context, tx database.Tx, itemID uuid.UUID) (*Item, error) {
	args := m.Called(ctx, tx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Item), args.Error(1)
}

func (m *mockRepo) UpdatePrice(ctx context.Context, tx database.Tx, itemID uuid.UUID, amount int64, winnerID uuid.UUID) error {
	args := m.Called(ctx, tx, itemID, amount, winnerID)
	return args.Error(0)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, tx database.Tx, itemID uuid.UUID, from, to ItemStatus) error {
	args := m.Called(ctx, tx, itemID, from, to)
	return args.Error(0)
}

func (m *mockRepo) ListDuePending(ctx context.Context, now time.Time) ([]*Item, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Item), args.Error(1)
}

func (m *mockRepo) ListDueActive(ctx context.Context, now time.Time) ([]*Item, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Item), args.Error(1)
}

func (m *mockRepo) ListActiveItems(ctx context.Context, limit, offset int) ([]*Item, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Item), args.Error(1)
}

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) SaveEvent(ctx context.Context, tx database.Tx, event *events.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func (m *mockOutboxRepo) GetPendingEvents(ctx context.Context, tx database.Tx, limit int) ([]*events.OutboxEvent, error) {
	args := m.Called(ctx, tx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*events.OutboxEvent), args.Error(1)
}

func (m *mockOutboxRepo) UpdateEventStatus(ctx context.Context, tx database.Tx, id uuid.UUID, status events.OutboxStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockLocker) Release(ctx context.Context, key, token string) (bool, error) {
	args := m.Called(ctx, key, token)
	return args.Bool(0), args.Error(1)
}

type itemsFixture struct {
	service    *Service
	txManager  *mockTxManager
	repo       *mockRepo
	outboxRepo *mockOutboxRepo
	locks      *mockLocker
}

func newFixture() *itemsFixture {
	f := &itemsFixture{
		txManager:  new(mockTxManager),
		repo:       new(mockRepo),
		outboxRepo: new(mockOutboxRepo),
		locks:      new(mockLocker),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(f.txManager, f.repo, f.outboxRepo, f.locks, 5*time.Second, logger)
	return f
}

func (f *itemsFixture) priceLockCycle(itemID uuid.UUID) {
	key := dlock.Key("catalog-item", itemID.String())
	f.locks.On("Acquire", mock.Anything, key, 5*time.Second).Return("token-1", nil)
	f.locks.On("Release", mock.Anything, key, "token-1").Return(true, nil)
}

func newCommittableTx(ctx context.Context) *mockTx {
	tx := new(mockTx)
	tx.On("Commit", ctx).Return(nil)
	tx.On("Rollback", ctx).Return(nil)
	return tx
}

func TestCreateItem_Validation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		cmd     CreateItemCommand
		wantErr error
	}{
		{
			name: "zero starting price rejected",
			cmd: CreateItemCommand{
				SellerID:      uuid.New(),
				Title:         "vase",
				StartingPrice: 0,
				StartAt:       now.Add(time.Hour),
				EndAt:         now.Add(2 * time.Hour),
			},
			wantErr: ErrInvalidStartPrice,
		},
		{
			name: "end before start rejected",
			cmd: CreateItemCommand{
				SellerID:      uuid.New(),
				Title:         "vase",
				StartingPrice: 1000,
				StartAt:       now.Add(2 * time.Hour),
				EndAt:         now.Add(time.Hour),
			},
			wantErr: ErrInvalidTimeWindow,
		},
		{
			name: "end in the past rejected",
			cmd: CreateItemCommand{
				SellerID:      uuid.New(),
				Title:         "vase",
				StartingPrice: 1000,
				StartAt:       now.Add(-2 * time.Hour),
				EndAt:         now.Add(-time.Hour),
			},
			wantErr: ErrInvalidTimeWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			item, err := f.service.CreateItem(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, item)
			f.repo.AssertNotCalled(t, "CreateItem", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateItem(t *testing.T) {
	f := newFixture()
	f.repo.On("CreateItem", mock.Anything, mock.Anything).Return(nil)

	sellerID := uuid.New()
	item, err := f.service.CreateItem(context.Background(), CreateItemCommand{
		SellerID:      sellerID,
		Title:         "vintage clock",
		StartingPrice: 10000,
		StartAt:       time.Now().Add(time.Hour),
		EndAt:         time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, ItemStatusPending, item.Status)
	assert.Equal(t, int64(10000), item.StartingPrice)
	assert.Equal(t, int64(10000), item.CurrentPrice, "current price starts at the starting price")
	assert.Equal(t, sellerID, item.SellerID)
	assert.Nil(t, item.WinnerID)
}

func TestApplyBid_UpdatesPrice(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()
	bidderID := uuid.New()

	f := newFixture()
	f.priceLockCycle(itemID)

	tx := newCommittableTx(ctx)
	f.txManager.On("BeginTx", ctx).Return(tx, nil)
	f.repo.On("GetItemByIDForUpdate", ctx, tx, itemID).
		Return(&Item{ID: itemID, CurrentPrice: 10000, Status: ItemStatusActive}, nil)
	f.repo.On("UpdatePrice", ctx, tx, itemID, int64(15000), bidderID).Return(nil)

	require.NoError(t, f.service.ApplyBid(ctx, itemID, bidderID, 15000))

	f.repo.AssertExpectations(t)
	tx.AssertCalled(t, "Commit", ctx)
	f.locks.AssertExpectations(t)
}

func TestApplyBid_StaleAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()

	f := newFixture()
	f.priceLockCycle(itemID)

	tx := new(mockTx)
	tx.On("Rollback", ctx).Return(nil)
	f.txManager.On("BeginTx", ctx).Return(tx, nil)
	f.repo.On("GetItemByIDForUpdate", ctx, tx, itemID).
		Return(&Item{ID: itemID, CurrentPrice: 15000, Status: ItemStatusActive}, nil)

	// Redelivery of an already-applied bid must succeed without writing.
	require.NoError(t, f.service.ApplyBid(ctx, itemID, uuid.New(), 15000))

	f.repo.AssertNotCalled(t, "UpdatePrice",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestApplyBid_LockContention(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()

	f := newFixture()
	key := dlock.Key("catalog-item", itemID.String())
	f.locks.On("Acquire", mock.Anything, key, 5*time.Second).Return("", dlock.ErrNotAcquired)

	err := f.service.ApplyBid(ctx, itemID, uuid.New(), 15000)

	assert.ErrorIs(t, err, ErrPriceLockContention)
	f.txManager.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestApplyBid_UnknownItem(t *testing.T) {
	ctx := context.Background()
	itemID := uuid.New()

	f := newFixture()
	f.priceLockCycle(itemID)

	tx := new(mockTx)
	tx.On("Rollback", ctx).Return(nil)
	f.txManager.On("BeginTx", ctx).Return(tx, nil)
	f.repo.On("GetItemByIDForUpdate", ctx, tx, itemID).Return(nil, ErrItemNotFound)

	err := f.service.ApplyBid(ctx, itemID, uuid.New(), 15000)

	assert.ErrorIs(t, err, ErrItemNotFound)
	f.locks.AssertExpectations(t)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	winner := uuid.New()
	duePending := []*Item{
		{ID: uuid.New(), Status: ItemStatusPending, StartingPrice: 1000, EndAt: now.Add(time.Hour)},
		{ID: uuid.New(), Status: ItemStatusPending, StartingPrice: 2000, EndAt: now.Add(time.Hour)},
	}
	dueActive := []*Item{
		{ID: uuid.New(), Status: ItemStatusActive, CurrentPrice: 5000, WinnerID: &winner},
	}

	f := newFixture()
	f.repo.On("ListDuePending", ctx, now).Return(duePending, nil)
	f.repo.On("ListDueActive", ctx, now).Return(dueActive, nil)

	// Each transition gets its own transaction.
	f.txManager.On("BeginTx", ctx).Return(newCommittableTx(ctx), nil).Times(3)

	f.repo.On("UpdateStatus", ctx, mock.Anything, duePending[0].ID, ItemStatusPending, ItemStatusActive).Return(nil)
	f.repo.On("UpdateStatus", ctx, mock.Anything, duePending[1].ID, ItemStatusPending, ItemStatusActive).Return(nil)
	f.repo.On("UpdateStatus", ctx, mock.Anything, dueActive[0].ID, ItemStatusActive, ItemStatusEnded).Return(nil)

	f.outboxRepo.On("SaveEvent", ctx, mock.Anything, mock.MatchedBy(func(event *events.OutboxEvent) bool {
		return event.EventType == events.TypeAuctionStarted
	})).Return(nil).Times(2)
	f.outboxRepo.On("SaveEvent", ctx, mock.Anything, mock.MatchedBy(func(event *events.OutboxEvent) bool {
		return event.EventType == events.TypeAuctionEnded
	})).Return(nil).Once()

	summary := f.service.RunLifecycle(ctx, now)

	assert.Equal(t, 2, summary.Started)
	assert.Equal(t, 1, summary.Ended)
	assert.Equal(t, 0, summary.Failed)
	f.outboxRepo.AssertExpectations(t)
}

func TestRunLifecycle_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	good := &Item{ID: uuid.New(), Status: ItemStatusPending, StartingPrice: 1000, EndAt: now.Add(time.Hour)}
	bad := &Item{ID: uuid.New(), Status: ItemStatusPending, StartingPrice: 2000, EndAt: now.Add(time.Hour)}

	f := newFixture()
	f.repo.On("ListDuePending", ctx, now).Return([]*Item{good, bad}, nil)
	f.repo.On("ListDueActive", ctx, now).Return([]*Item{}, nil)

	goodTx := newCommittableTx(ctx)
	badTx := new(mockTx)
	badTx.On("Rollback", ctx).Return(nil)
	f.txManager.On("BeginTx", ctx).Return(goodTx, nil).Once()
	f.txManager.On("BeginTx", ctx).Return(badTx, nil).Once()

	f.repo.On("UpdateStatus", ctx, goodTx, good.ID, ItemStatusPending, ItemStatusActive).Return(nil)
	f.repo.On("UpdateStatus", ctx, badTx, bad.ID, ItemStatusPending, ItemStatusActive).
		Return(errors.New("row lock timeout"))
	f.outboxRepo.On("SaveEvent", ctx, goodTx, mock.Anything).Return(nil)

	summary := f.service.RunLifecycle(ctx, now)

	// One item's failure never rolls back another's transition.
	assert.Equal(t, 1, summary.Started)
	assert.Equal(t, 1, summary.Failed)
	goodTx.AssertCalled(t, "Commit", ctx)
	badTx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestRunLifecycle_NothingDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	f := newFixture()
	f.repo.On("ListDuePending", ctx, now).Return([]*Item{}, nil)
	f.repo.On("ListDueActive", ctx, now).Return([]*Item{}, nil)

	summary := f.service.RunLifecycle(ctx, now)

	assert.Equal(t, TransitionSummary{}, summary)
	f.txManager.AssertNotCalled(t, "BeginTx", mock.Anything)
}
