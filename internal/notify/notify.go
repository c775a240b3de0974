// Package notify delivers order notifications to administrators, buyers and
// broadcast audiences. Every send is best-effort: a failing recipient is
// logged and counted, never turned into a failure of the whole call.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultConcurrency = 8
)

// Field is a labelled value rendered in a message body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action is an interactive control attached to a message. ID is the value
// the platform sends back when the control is used, e.g. "deliver:<order id>".
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Name   string
	Data   []byte
	Digest string
}

type Message struct {
	Title      string
	Body       string
	Fields     []Field
	Actions    []Action
	Footer     string
	Attachment *Attachment
}

// Messenger sends a single message to a single recipient.
type Messenger interface {
	Send(ctx context.Context, recipientID string, msg Message) error
}

// Directory resolves an audience id to its member recipient ids.
type Directory interface {
	Members(ctx context.Context, audienceID string) ([]string, error)
}

// StaticDirectory is a Directory backed by configuration.
type StaticDirectory map[string][]string

func (d StaticDirectory) Members(_ context.Context, audienceID string) ([]string, error) {
	members, ok := d[audienceID]
	if !ok {
		return nil, fmt.Errorf("unknown audience %q", audienceID)
	}
	return members, nil
}

type Config struct {
	AdminAudience string
	SendTimeout   time.Duration
	Concurrency   int
}

type Fanout struct {
	messenger     Messenger
	directory     Directory
	adminAudience string
	sendTimeout   time.Duration
	concurrency   int
	logger        *slog.Logger
}

func NewFanout(messenger Messenger, directory Directory, cfg Config, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &Fanout{
		messenger:     messenger,
		directory:     directory,
		adminAudience: cfg.AdminAudience,
		sendTimeout:   cfg.SendTimeout,
		concurrency:   cfg.Concurrency,
		logger:        logger,
	}
	if f.sendTimeout <= 0 {
		f.sendTimeout = defaultSendTimeout
	}
	if f.concurrency <= 0 {
		f.concurrency = defaultConcurrency
	}
	return f
}

// NotifyAdmins sends the order summary with the given actions to every
// administrator and returns how many sends succeeded.
func (f *Fanout) NotifyAdmins(ctx context.Context, order domain.Order, actions []Action) int {
	return f.NotifyAudience(ctx, f.adminAudience, OrderSummary(order, actions))
}

// NotifyAudience broadcasts msg to every member of audienceID and returns
// how many sends succeeded.
func (f *Fanout) NotifyAudience(ctx context.Context, audienceID string, msg Message) int {
	members, err := f.directory.Members(ctx, audienceID)
	if err != nil {
		f.logger.Warn("audience_resolve_failed", "audience", audienceID, "error", err)
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for _, member := range members {
		g.Go(func() error {
			if err := f.send(ctx, member, msg); err != nil {
				f.logger.Warn("notification_failed",
					"audience", audienceID,
					"recipient", member,
					"error", err,
				)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Info("audience_notified",
		"audience", audienceID,
		"delivered", delivered.Load(),
		"members", len(members),
	)
	return int(delivered.Load())
}

// NotifyBuyer sends msg to a single buyer. A failure is returned as a
// *domain.NotificationFailure for the caller to report; it is never fatal.
func (f *Fanout) NotifyBuyer(ctx context.Context, buyerID string, msg Message) error {
	if err := f.send(ctx, buyerID, msg); err != nil {
		f.logger.Warn("buyer_notification_failed", "buyer_id", buyerID, "error", err)
		return &domain.NotificationFailure{Recipient: buyerID, Err: err}
	}
	return nil
}

func (f *Fanout) send(ctx context.Context, recipient string, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
	defer cancel()
	return f.messenger.Send(sendCtx, recipient, msg)
}
