// Package fanout delivers a stored message to every live connection of
// every recipient, sealed separately for each recipient.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/dmitrijs2005/securechat/internal/rpc"
	"github.com/dmitrijs2005/securechat/internal/server/metrics"
	"github.com/dmitrijs2005/securechat/internal/server/models"
	"github.com/dmitrijs2005/securechat/internal/server/presence"
	"golang.org/x/sync/errgroup"
)

// State of one fanout.
type State string

const (
	StateResolving  State = "RESOLVING_RECIPIENTS"
	StateEncrypting State = "ENCRYPTING_PER_RECIPIENT"
	StateDelivering State = "DELIVERING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// KeyLookup returns the armored public key of a user or
// common.ErrKeyNotFound.
type KeyLookup interface {
	GetPublicKey(ctx context.Context, userID string) (string, error)
}

// Sealer seals content for one recipient key.
type Sealer interface {
	SealForRecipient(plaintext []byte, armoredPublicKey string) ([]byte, error)
}

// Presence yields the live connections of a user.
type Presence interface {
	HandlesFor(userID string) []presence.Conn
}

// Outbound is a stored message ready to be fanned out. Event is the
// template pushed to recipients; its Payload is replaced per recipient by
// Plaintext sealed for that recipient.
type Outbound struct {
	Summary   models.Summary
	Plaintext []byte
	Event     rpc.Event
}

// Delivery is the result of one push to one connection.
type Delivery struct {
	ConnID string
	Err    error
}

// RecipientResult tells what happened to one recipient. An offline
// recipient is skipped without error.
type RecipientResult struct {
	UserID     string
	Offline    bool
	Err        error
	Deliveries []Delivery
}

// Delivered reports whether at least one connection got the message.
func (r RecipientResult) Delivered() bool {
	for _, d := range r.Deliveries {
		if d.Err == nil {
			return true
		}
	}
	return false
}

// Report describes a finished fanout. Recipients are ordered by user id.
type Report struct {
	MessageID  string
	State      State
	Err        error
	Recipients []RecipientResult
}

// Recipient returns the result for userID, if it was a recipient.
func (r *Report) Recipient(userID string) (RecipientResult, bool) {
	for _, rr := range r.Recipients {
		if rr.UserID == userID {
			return rr, true
		}
	}
	return RecipientResult{}, false
}

// Dispatcher is safe for concurrent use; every Dispatch call is
// independent.
type Dispatcher struct {
	keys        KeyLookup
	sealer      Sealer
	presence    Presence
	resolver    RecipientResolver
	concurrency int
	sendTimeout time.Duration
	log         logging.Logger
	metrics     *metrics.Metrics
}

// Default limits used when the caller passes non-positive values.
const (
	DefaultConcurrency = 16
	DefaultSendTimeout = 5 * time.Second
)

func NewDispatcher(keys KeyLookup, sealer Sealer, p Presence, resolver RecipientResolver,
	concurrency int, sendTimeout time.Duration, log logging.Logger, m *metrics.Metrics) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		keys:        keys,
		sealer:      sealer,
		presence:    p,
		resolver:    resolver,
		concurrency: concurrency,
		sendTimeout: sendTimeout,
		log:         log.With("module", "fanout"),
		metrics:     m,
	}
}

type target struct {
	result  *RecipientResult
	handles []presence.Conn
	event   *rpc.Event
}

// Dispatch resolves the recipients of out, seals the plaintext once per
// online recipient and pushes it to every connection of that recipient.
// Only a resolver failure fails the fanout; per-recipient failures are
// logged and recorded in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, out Outbound) *Report {
	started := time.Now()
	msgID := out.Summary.ID
	report := &Report{MessageID: msgID, State: StateResolving}
	log := d.log.With("message_id", msgID)

	defer func() {
		d.metrics.FanoutFinished(string(report.State), time.Since(started))
	}()

	recipients, err := d.resolver.Recipients(ctx, out.Summary)
	if err != nil {
		report.State, report.Err = StateFailed, err
		log.Error(ctx, "cannot resolve recipients", "error", err)
		return report
	}

	recipients = unique(recipients)
	report.Recipients = make([]RecipientResult, len(recipients))
	for i, id := range recipients {
		report.Recipients[i].UserID = id
	}

	// offline recipients are dropped before any key lookup
	var targets []*target
	for i := range report.Recipients {
		rr := &report.Recipients[i]
		handles := d.presence.HandlesFor(rr.UserID)
		if len(handles) == 0 {
			rr.Offline = true
			d.metrics.RecipientSkipped(metrics.SkipOffline)
			continue
		}
		targets = append(targets, &target{result: rr, handles: handles})
	}

	report.State = StateEncrypting
	log.Debug(ctx, "sealing", "recipients", len(recipients), "online", len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			t.event, t.result.Err = d.seal(gctx, t.result.UserID, out)
			if t.result.Err != nil {
				d.metrics.RecipientSkipped(skipReason(t.result.Err))
				log.Warn(ctx, "recipient skipped", "user_id", t.result.UserID, "error", t.result.Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.State = StateDelivering

	var sends []func()
	for _, t := range targets {
		if t.result.Err != nil {
			continue
		}
		t.result.Deliveries = make([]Delivery, len(t.handles))
		for i, h := range t.handles {
			sends = append(sends, func() {
				t.result.Deliveries[i] = d.push(ctx, h, t.event)
				if err := t.result.Deliveries[i].Err; err != nil {
					log.Warn(ctx, "delivery failed", "user_id", t.result.UserID, "conn_id", h.ID(), "error", err)
				}
			})
		}
	}
	d.run(sends)

	report.State = StateDone
	return report
}

// Notify pushes ev as is to every live connection of the given users.
// It is used for presence and typing events, which carry no content.
func (d *Dispatcher) Notify(ctx context.Context, userIDs []string, ev *rpc.Event) []Delivery {
	var (
		mu      sync.Mutex
		results []Delivery
		sends   []func()
	)
	for _, id := range unique(userIDs) {
		for _, h := range d.presence.HandlesFor(id) {
			sends = append(sends, func() {
				res := d.push(ctx, h, ev)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			})
		}
	}
	d.run(sends)
	return results
}

// Acknowledge seals plaintext for the sender so the submitting client gets
// its own copy, correlated by the temp id set on ev. It does not depend on
// the fanout to other recipients.
func (d *Dispatcher) Acknowledge(ctx context.Context, senderID string, plaintext []byte, ev rpc.Event) (*rpc.Event, error) {
	key, err := d.keys.GetPublicKey(ctx, senderID)
	if err != nil {
		return nil, err
	}
	sealed, err := d.sealer.SealForRecipient(plaintext, key)
	if err != nil {
		return nil, err
	}
	ev.Type = rpc.EventMessageSent
	ev.Payload = sealed
	return &ev, nil
}

func (d *Dispatcher) seal(ctx context.Context, userID string, out Outbound) (*rpc.Event, error) {
	key, err := d.keys.GetPublicKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	sealed, err := d.sealer.SealForRecipient(out.Plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("seal for %s: %w", userID, err)
	}
	ev := out.Event
	ev.Payload = sealed
	return &ev, nil
}

func (d *Dispatcher) push(ctx context.Context, h presence.Conn, ev *rpc.Event) Delivery {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := h.Send(sendCtx, ev)
	d.metrics.Delivery(err == nil)
	return Delivery{ConnID: h.ID(), Err: err}
}

// run executes fns with bounded parallelism and waits for all of them.
func (d *Dispatcher) run(fns []func()) {
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, fn := range fns {
		g.Go(func() error {
			fn()
			return nil
		})
	}
	_ = g.Wait()
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, common.ErrKeyNotFound):
		return metrics.SkipKeyNotFound
	case errors.Is(err, common.ErrKeyFormat):
		return metrics.SkipKeyFormat
	default:
		return metrics.SkipSeal
	}
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
