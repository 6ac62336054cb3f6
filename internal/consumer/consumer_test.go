package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/pkg/kafka"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSaga is a mock implementation of Saga
type MockSaga struct {
	mock.Mock
}

func (m *MockSaga) HandleSeatLocked(ctx context.Context, evt events.SeatLocked) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockSaga) HandlePaymentSuccess(ctx context.Context, evt events.PaymentSuccess) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockSaga) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailed) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockSaga) HandleSeatExpired(ctx context.Context, evt events.SeatUnlocked) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockSaga) HandleShowtimeSuspended(ctx context.Context, evt events.ShowtimeSuspended) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockSaga) HandleStatusUpdated(ctx context.Context, evt events.BookingStatusUpdated) error {
	return m.Called(ctx, evt).Error(0)
}

// MockLedger is a mock implementation of Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreatePendingTransaction(ctx context.Context, evt events.BookingCreated) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockLedger) UpdateAmount(ctx context.Context, evt events.BookingFinalized) error {
	return m.Called(ctx, evt).Error(0)
}

// MockPromotions is a mock implementation of PromotionReleaser
type MockPromotions struct {
	mock.Mock
}

func (m *MockPromotions) OnBookingStatusChange(ctx context.Context, bookingID string, status domain.BookingStatus) error {
	return m.Called(ctx, bookingID, status).Error(0)
}

type fakeSource struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed []*kafka.Record
	closed    bool
}

func (s *fakeSource) Poll(ctx context.Context) ([]*kafka.Record, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) CommitRecords(ctx context.Context, records []*kafka.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, records...)
	return nil
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSource) Committed() []*kafka.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kafka.Record(nil), s.committed...)
}

type recordingDLQ struct {
	mu       sync.Mutex
	messages []*retry.DLQMessage
	err      error
	// failures is how many publishes fail with err before the DLQ recovers,
	// 0 means it never recovers
	failures int
	attempts int
}

func (d *recordingDLQ) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil && (d.failures == 0 || d.attempts <= d.failures) {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDLQ) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func record(t *testing.T, evt events.Event) *kafka.Record {
	t.Helper()
	env, err := events.Wrap(evt, time.Now())
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.NewRecord(evt.Topic(), []byte(evt.Key()), value)
}

type fixture struct {
	saga       *MockSaga
	ledger     *MockLedger
	promotions *MockPromotions
	source     *fakeSource
	dlq        *recordingDLQ
	consumer   *Consumer
}

func newFixture() *fixture {
	f := &fixture{
		saga:       new(MockSaga),
		ledger:     new(MockLedger),
		promotions: new(MockPromotions),
		source:     &fakeSource{},
		dlq:        &recordingDLQ{},
	}
	router := NewRouter(f.saga, f.ledger, f.promotions)
	f.consumer = New(f.source, router, f.dlq, &Config{WorkerCount: 2, MaxRetries: 2, RetryInterval: time.Millisecond}, nil)
	return f
}

func TestRouter_DispatchesByTopic(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	locked := events.SeatLocked{LockID: "b-1", UserID: "u-1", ShowtimeID: "st-1", SeatIDs: []string{"S1"}}
	created := events.BookingCreated{BookingID: "b-1", UserID: "u-1", TotalPrice: 100000}
	finalized := events.BookingFinalized{BookingID: "b-1", FinalPrice: 90000}
	success := events.PaymentSuccess{BookingID: "b-1", PaymentID: "p-1", Amount: 90000, Method: "CARD"}
	failed := events.PaymentFailed{BookingID: "b-2", Reason: "declined"}
	unlocked := events.SeatUnlocked{ShowtimeID: "st-1", BookingID: "b-3", Reason: events.UnlockReasonExpired}
	suspended := events.ShowtimeSuspended{ShowtimeID: "st-1", Reason: "maintenance"}
	status := events.BookingStatusUpdated{BookingID: "b-2", NewStatus: domain.BookingStatusCancelled}

	f.saga.On("HandleSeatLocked", mock.Anything, locked).Return(nil)
	f.ledger.On("CreatePendingTransaction", mock.Anything, created).Return(nil)
	f.ledger.On("UpdateAmount", mock.Anything, finalized).Return(nil)
	f.saga.On("HandlePaymentSuccess", mock.Anything, success).Return(nil)
	f.saga.On("HandlePaymentFailed", mock.Anything, failed).Return(nil)
	f.saga.On("HandleSeatExpired", mock.Anything, unlocked).Return(nil)
	f.saga.On("HandleShowtimeSuspended", mock.Anything, suspended).Return(nil)
	f.promotions.On("OnBookingStatusChange", mock.Anything, "b-2", domain.BookingStatusCancelled).Return(nil)
	f.saga.On("HandleStatusUpdated", mock.Anything, status).Return(nil)

	for _, evt := range []events.Event{locked, created, finalized, success, failed, unlocked, suspended, status} {
		require.NoError(t, f.consumer.Process(ctx, record(t, evt)), evt.Type())
	}

	f.saga.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.promotions.AssertExpectations(t)
	assert.Len(t, f.source.Committed(), 8)
	assert.Empty(t, f.dlq.messages)
}

func TestRouter_Topics(t *testing.T) {
	router := NewRouter(new(MockSaga), new(MockLedger), new(MockPromotions))

	topics := router.Topics()
	assert.Contains(t, topics, events.TopicSeatLocked)
	assert.Contains(t, topics, events.TopicBookingStatusUpdated)
	assert.NotContains(t, topics, events.TopicBookingTicketGenerated)
	for _, topic := range topics {
		assert.Contains(t, router.routes, topic)
	}
}

func TestProcess_TransientErrorIsRetried(t *testing.T) {
	f := newFixture()
	evt := events.PaymentSuccess{BookingID: "b-1"}

	f.saga.On("HandlePaymentSuccess", mock.Anything, evt).Return(domain.ErrConcurrentUpdate).Once()
	f.saga.On("HandlePaymentSuccess", mock.Anything, evt).Return(nil).Once()

	require.NoError(t, f.consumer.Process(context.Background(), record(t, evt)))

	f.saga.AssertNumberOfCalls(t, "HandlePaymentSuccess", 2)
	assert.Len(t, f.source.Committed(), 1)
	assert.Empty(t, f.dlq.messages)
}

func TestProcess_ExhaustedRetriesGoToDLQ(t *testing.T) {
	f := newFixture()
	evt := events.BookingCreated{BookingID: "b-1", TotalPrice: 100000}
	rec := record(t, evt)

	f.ledger.On("CreatePendingTransaction", mock.Anything, evt).Return(domain.ErrDependencyUnavailable)

	require.NoError(t, f.consumer.Process(context.Background(), rec))

	f.ledger.AssertNumberOfCalls(t, "CreatePendingTransaction", 3)
	require.Len(t, f.dlq.messages, 1)
	msg := f.dlq.messages[0]
	assert.Equal(t, events.TopicBookingCreated, msg.OriginalTopic)
	assert.Equal(t, "b-1", msg.OriginalKey)
	assert.Equal(t, 3, msg.Attempts)
	assert.JSONEq(t, string(rec.Value), string(msg.Payload))
	assert.Len(t, f.source.Committed(), 1)
}

func TestProcess_DLQFailureLeavesRecordUncommitted(t *testing.T) {
	f := newFixture()
	f.dlq.err = errors.New("broker down")
	evt := events.PaymentFailed{BookingID: "b-1"}

	f.saga.On("HandlePaymentFailed", mock.Anything, evt).Return(domain.ErrDependencyUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.consumer.Process(ctx, record(t, evt))

	assert.ErrorIs(t, err, ErrRecordNotSettled)
	assert.Empty(t, f.source.Committed())
	assert.Greater(t, f.dlq.Attempts(), 1, "record should be redelivered while the DLQ is down")
}

func TestProcess_RedeliversUntilDLQRecovers(t *testing.T) {
	f := newFixture()
	f.dlq.err = errors.New("broker down")
	f.dlq.failures = 2
	evt := events.PaymentFailed{BookingID: "b-1"}

	f.saga.On("HandlePaymentFailed", mock.Anything, evt).Return(domain.ErrDependencyUnavailable)

	require.NoError(t, f.consumer.Process(context.Background(), record(t, evt)))

	assert.Equal(t, 3, f.dlq.Attempts())
	assert.Len(t, f.dlq.messages, 1)
	assert.Len(t, f.source.Committed(), 1)
	// three rounds of MaxRetries+1 handler calls
	f.saga.AssertNumberOfCalls(t, "HandlePaymentFailed", 9)
}

func TestConsumer_DLQFailureHaltsPartition(t *testing.T) {
	f := newFixture()
	f.dlq.err = errors.New("broker down")
	first := record(t, events.PaymentFailed{BookingID: "b-1"})
	first.Offset = 10
	second := record(t, events.PaymentFailed{BookingID: "b-2"})
	second.Offset = 11
	f.source.batches = [][]*kafka.Record{{first, second}}

	f.saga.On("HandlePaymentFailed", mock.Anything, events.PaymentFailed{BookingID: "b-1"}).Return(domain.ErrDependencyUnavailable)
	f.saga.On("HandlePaymentFailed", mock.Anything, events.PaymentFailed{BookingID: "b-2"}).Return(nil)

	require.NoError(t, f.consumer.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return f.dlq.Attempts() >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.consumer.Stop())

	assert.Empty(t, f.source.Committed(), "no offset of the partition may be committed")
	f.saga.AssertNotCalled(t, "HandlePaymentFailed", mock.Anything, events.PaymentFailed{BookingID: "b-2"})
}

func TestProcess_PermanentErrorsAreDroppedAndCommitted(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"conflict", domain.ErrInvalidBookingState},
		{"not found", domain.ErrBookingNotFound},
		{"validation", domain.ErrInvalidBookingID},
		{"unexpected", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			evt := events.SeatLocked{LockID: "b-1"}
			f.saga.On("HandleSeatLocked", mock.Anything, evt).Return(tt.err)

			require.NoError(t, f.consumer.Process(context.Background(), record(t, evt)))

			f.saga.AssertNumberOfCalls(t, "HandleSeatLocked", 1)
			assert.Len(t, f.source.Committed(), 1)
			assert.Empty(t, f.dlq.messages)
		})
	}
}

func TestProcess_MalformedMessagesAreCommitted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	garbage := kafka.NewRecord(events.TopicPaymentSuccess, []byte("b-1"), []byte("{not json"))
	require.NoError(t, f.consumer.Process(ctx, garbage))

	badPayload := kafka.NewRecord(events.TopicPaymentSuccess, []byte("b-1"),
		[]byte(`{"event_id":"e-1","event_type":"PaymentSuccess","version":1,"data":{"amount":"lots"}}`))
	require.NoError(t, f.consumer.Process(ctx, badPayload))

	unknown := kafka.NewRecord("unknown.topic", nil, []byte(`{}`))
	require.NoError(t, f.consumer.Process(ctx, unknown))

	f.saga.AssertNotCalled(t, "HandlePaymentSuccess", mock.Anything, mock.Anything)
	assert.Len(t, f.source.Committed(), 3)
}

func TestProcess_StatusUpdateRetriesWhenGuardIsDown(t *testing.T) {
	f := newFixture()
	evt := events.BookingStatusUpdated{BookingID: "b-1", NewStatus: domain.BookingStatusExpired}

	f.promotions.On("OnBookingStatusChange", mock.Anything, "b-1", domain.BookingStatusExpired).Return(domain.ErrDependencyUnavailable).Once()
	f.promotions.On("OnBookingStatusChange", mock.Anything, "b-1", domain.BookingStatusExpired).Return(nil).Once()
	f.saga.On("HandleStatusUpdated", mock.Anything, evt).Return(nil)

	require.NoError(t, f.consumer.Process(context.Background(), record(t, evt)))

	f.promotions.AssertNumberOfCalls(t, "OnBookingStatusChange", 2)
	assert.Len(t, f.source.Committed(), 1)
}

func TestConsumer_StartStop(t *testing.T) {
	f := newFixture()
	first := record(t, events.PaymentSuccess{BookingID: "b-1"})
	second := record(t, events.PaymentFailed{BookingID: "b-2"})
	second.Partition = 1
	f.source.batches = [][]*kafka.Record{{first, second}}

	f.saga.On("HandlePaymentSuccess", mock.Anything, mock.Anything).Return(nil)
	f.saga.On("HandlePaymentFailed", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.consumer.Start(context.Background()))
	assert.True(t, f.consumer.IsRunning())
	assert.Error(t, f.consumer.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(f.source.Committed()) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.consumer.Stop())
	assert.False(t, f.consumer.IsRunning())
	assert.True(t, f.source.closed)
	require.NoError(t, f.consumer.Stop())
}
