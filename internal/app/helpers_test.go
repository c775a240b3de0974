package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/fulfillment-desk/internal/clock"
	"github.com/cimillas/fulfillment-desk/internal/domain"
	"github.com/cimillas/fulfillment-desk/internal/notify"
	"github.com/cimillas/fulfillment-desk/internal/storage/memory"
)

const testProofPrefix = "https://pay.example.com/receipt/"

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type recordingMessenger struct {
	mu       sync.Mutex
	failFor  map[string]error
	received map[string][]notify.Message
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{
		failFor:  make(map[string]error),
		received: make(map[string][]notify.Message),
	}
}

func (m *recordingMessenger) Send(_ context.Context, recipientID string, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[recipientID]; err != nil {
		return err
	}
	m.received[recipientID] = append(m.received[recipientID], msg)
	return nil
}

func (m *recordingMessenger) fail(recipientID string) {
	m.mu.Lock()
	m.failFor[recipientID] = errors.New("recipient unreachable")
	m.mu.Unlock()
}

func (m *recordingMessenger) messages(recipientID string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.received[recipientID]...)
}

func (m *recordingMessenger) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msgs := range m.received {
		n += len(msgs)
	}
	return n
}

type fakeArtifacts struct {
	data    map[string][]byte
	corrupt map[string]bool
}

func (f fakeArtifacts) Verify(a domain.Artifact) error {
	if _, ok := f.data[a.Ref]; !ok {
		return errors.New("artifact missing")
	}
	if f.corrupt[a.Ref] {
		return errors.New("artifact digest mismatch")
	}
	return nil
}

func (f fakeArtifacts) Open(ref string) ([]byte, error) {
	data, ok := f.data[ref]
	if !ok {
		return nil, errors.New("artifact missing")
	}
	return data, nil
}

type harness struct {
	engine    *Engine
	store     OrderStore
	mem       *memory.Store
	artifacts fakeArtifacts
	messenger *recordingMessenger
	clock     *clock.FakeClock
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		mem:       memory.New(),
		messenger: newRecordingMessenger(),
		clock:     clock.NewFake(testNow),
		artifacts: fakeArtifacts{
			data:    map[string][]byte{"artifacts/order.zip": []byte("zip-bytes")},
			corrupt: make(map[string]bool),
		},
	}
	h.store = h.mem
	for _, opt := range opts {
		opt(h)
	}

	proof, err := NewProofPolicy(testProofPrefix)
	require.NoError(t, err)

	fanout := notify.NewFanout(h.messenger, notify.StaticDirectory{
		"admins":       {"admin-1", "admin-2", "admin-3"},
		"delivery-log": {"log-1"},
		"sales-log":    {"sales-1"},
	}, notify.Config{AdminAudience: "admins", SendTimeout: time.Second}, nil)

	h.engine = NewEngine(h.store, fanout, h.artifacts, proof, h.clock, EngineConfig{
		DeliveryLogAudience: "delivery-log",
		SalesLogAudience:    "sales-log",
		UpdateTimeout:       time.Second,
		RecheckTimeout:      time.Second,
	}, nil)
	return h
}

func (h *harness) createPending(t *testing.T) domain.Order {
	t.Helper()
	res, err := h.engine.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	return res.Order
}

func validCreateInput() CreateOrderInput {
	return CreateOrderInput{
		ProductID:      "bundle-a",
		ProductName:    "Bundle A",
		Price:          decimal.RequireFromString("12.50"),
		Buyer:          domain.Party{ID: "buyer-1", DisplayName: "Buyer"},
		Origin:         domain.Party{ID: "guild-1", DisplayName: "Guild"},
		ArtifactRef:    "artifacts/order.zip",
		ArtifactDigest: "digest",
		PaymentProof:   testProofPrefix + "abc123",
	}
}

// flakyStore wraps a store and lets tests inject failures around the
// conditional status write.
type flakyStore struct {
	OrderStore

	mu sync.Mutex
	// commitThenFail applies the write and then reports failure, as when a
	// commit lands but the acknowledgement is lost.
	commitThenFail error
	// failBeforeCommit reports failure without applying the write.
	failBeforeCommit error
	// getErrAfterUpdate makes every Get after a failed update fail.
	getErrAfterUpdate error
	updateFailed      bool
	// insertErr fails Insert; with insertLands the order is stored first.
	insertErr   error
	insertLands bool
}

func (f *flakyStore) Insert(ctx context.Context, order domain.Order) error {
	if f.insertErr == nil {
		return f.OrderStore.Insert(ctx, order)
	}
	if f.insertLands {
		if err := f.OrderStore.Insert(ctx, order); err != nil {
			return err
		}
	}
	return f.insertErr
}

func (f *flakyStore) UpdateStatus(ctx context.Context, id string, expected, next domain.OrderStatus, tr domain.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBeforeCommit != nil {
		f.updateFailed = true
		return f.failBeforeCommit
	}
	if err := f.OrderStore.UpdateStatus(ctx, id, expected, next, tr); err != nil {
		return err
	}
	if f.commitThenFail != nil {
		f.updateFailed = true
		return f.commitThenFail
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	failed := f.updateFailed
	getErr := f.getErrAfterUpdate
	f.mu.Unlock()
	if failed && getErr != nil {
		return domain.Order{}, getErr
	}
	return f.OrderStore.Get(ctx, id)
}
