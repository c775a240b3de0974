package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

type recordingMessenger struct {
	mu       sync.Mutex
	failFor  map[string]error
	block    map[string]bool
	received map[string][]Message
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{
		failFor:  make(map[string]error),
		block:    make(map[string]bool),
		received: make(map[string][]Message),
	}
}

func (m *recordingMessenger) Send(ctx context.Context, recipientID string, msg Message) error {
	m.mu.Lock()
	err := m.failFor[recipientID]
	block := m.block[recipientID]
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.received[recipientID] = append(m.received[recipientID], msg)
	m.mu.Unlock()
	return nil
}

func testOrder() domain.Order {
	return domain.Order{
		ID:           "order-1",
		ProductName:  "Starter Pack",
		Price:        decimal.RequireFromString("300"),
		Buyer:        domain.Party{ID: "buyer-1", DisplayName: "Buyer"},
		Origin:       domain.Party{ID: "guild-1", DisplayName: "Guild"},
		PaymentProof: "https://pay.example/abc123",
		Status:       domain.OrderStatusPending,
	}
}

func TestFanout_NotifyAdmins(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		admins   []string
		failing  []string
		expected int
	}{
		"should notify every admin": {
			admins:   []string{"a1", "a2", "a3"},
			expected: 3,
		},
		"should exclude unreachable admins from the count": {
			admins:   []string{"a1", "a2", "a3", "a4"},
			failing:  []string{"a2", "a4"},
			expected: 2,
		},
		"should return zero when every admin fails": {
			admins:   []string{"a1"},
			failing:  []string{"a1"},
			expected: 0,
		},
		"should return zero for an empty audience": {
			admins:   nil,
			expected: 0,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			messenger := newRecordingMessenger()
			for _, id := range tc.failing {
				messenger.failFor[id] = errors.New("direct messages disabled")
			}
			fanout := NewFanout(messenger, StaticDirectory{"admins": tc.admins}, Config{AdminAudience: "admins"}, nil)

			got := fanout.NotifyAdmins(context.Background(), testOrder(), AdminActions("order-1"))

			assert.Equal(t, tc.expected, got)
			for _, id := range tc.admins {
				if contains(tc.failing, id) {
					assert.Empty(t, messenger.received[id])
					continue
				}
				require.Len(t, messenger.received[id], 1)
				msg := messenger.received[id][0]
				assert.Equal(t, "reject:order-1", msg.Actions[0].ID)
				assert.Equal(t, "deliver:order-1", msg.Actions[1].ID)
			}
		})
	}
}

func TestFanout_NotifyAudience_UnknownAudience(t *testing.T) {
	t.Parallel()

	fanout := NewFanout(newRecordingMessenger(), StaticDirectory{}, Config{}, nil)
	assert.Equal(t, 0, fanout.NotifyAudience(context.Background(), "delivery-log", Message{Title: "x"}))
}

func TestFanout_SendTimeoutIsolated(t *testing.T) {
	t.Parallel()

	messenger := newRecordingMessenger()
	messenger.block["slow"] = true
	fanout := NewFanout(messenger, StaticDirectory{"log": {"slow", "fast"}}, Config{SendTimeout: 20 * time.Millisecond}, nil)

	got := fanout.NotifyAudience(context.Background(), "log", Message{Title: "delivered"})
	assert.Equal(t, 1, got)
	assert.Len(t, messenger.received["fast"], 1)
}

func TestFanout_NotifyBuyer(t *testing.T) {
	t.Parallel()

	messenger := newRecordingMessenger()
	messenger.failFor["blocked"] = errors.New("cannot send messages to this user")
	fanout := NewFanout(messenger, StaticDirectory{}, Config{}, nil)

	require.NoError(t, fanout.NotifyBuyer(context.Background(), "buyer-1", RejectionNotice(testOrder())))

	err := fanout.NotifyBuyer(context.Background(), "blocked", Message{Title: "x"})
	var failure *domain.NotificationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "blocked", failure.Recipient)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
