package delivery

import (
	"context"
	"sync/atomic"
	"time"

	"swarg/internal/models"
	"swarg/internal/observability"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel pushes when no limit is configured.
const DefaultConcurrency = 16

// Session is one live client connection.
type Session interface {
	ID() string
	UserID() uint
}

// Transport knows the live sessions of a user and pushes frames to them.
type Transport interface {
	LiveSessions(userID uint) []Session
	Push(ctx context.Context, s Session, frame []byte) error
}

// Audience resolves who may receive a message.
type Audience interface {
	GroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error)
}

// Relay forwards frames to sessions connected to other nodes.
type Relay interface {
	RelayToUsers(ctx context.Context, userIDs []uint, frame []byte) error
}

// RecipientState is the routing outcome for one recipient.
type RecipientState string

const (
	StateDelivered   RecipientState = "delivered"
	StateUndelivered RecipientState = "undelivered"
)

// RecipientResult summarizes the pushes made for one recipient.
type RecipientResult struct {
	UserID   uint           `json:"user_id"`
	State    RecipientState `json:"state"`
	Sessions int            `json:"sessions"`
	Failed   int            `json:"failed"`
}

// RoutingResult is advisory: the stored message status is not changed by
// routing, only by client acknowledgements.
type RoutingResult struct {
	MessageID  uint              `json:"message_id"`
	Recipients []RecipientResult `json:"recipients"`
}

func (r *RoutingResult) usersIn(state RecipientState) []uint {
	out := []uint{}
	for _, rec := range r.Recipients {
		if rec.State == state {
			out = append(out, rec.UserID)
		}
	}
	return out
}

// Delivered lists recipients with at least one successful push.
func (r *RoutingResult) Delivered() []uint { return r.usersIn(StateDelivered) }

// Undelivered lists recipients that must fetch the message later.
func (r *RoutingResult) Undelivered() []uint { return r.usersIn(StateUndelivered) }

// Options configures a Router.
type Options struct {
	Concurrency int
	Relay       Relay
}

// Router fans persisted messages out to live sessions. It never writes to
// storage.
type Router struct {
	transport   Transport
	audience    Audience
	relay       Relay
	concurrency int
	log         *observability.WSLogger
}

// NewRouter creates a Router over the given transport.
func NewRouter(transport Transport, audience Audience, opts Options) *Router {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Router{
		transport:   transport,
		audience:    audience,
		relay:       opts.Relay,
		concurrency: opts.Concurrency,
		log:         observability.NewWSLogger("router"),
	}
}

// Recipients returns the users msg must reach: the addressed user for direct
// messages, every member except the sender for groups. Users with a block
// against the sender in either direction are dropped.
func (r *Router) Recipients(ctx context.Context, msg *models.Message) ([]uint, error) {
	var candidates []uint
	if msg.Receiver.IsGroup() {
		members, err := r.audience.GroupMemberIDs(ctx, msg.Receiver.ID)
		if err != nil {
			return nil, err
		}
		candidates = lo.Without(members, msg.SenderID)
	} else {
		candidates = []uint{msg.Receiver.ID}
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	blocked, err := r.audience.BlockedAmong(ctx, msg.SenderID, candidates)
	if err != nil {
		return nil, err
	}
	return lo.Without(candidates, blocked...), nil
}

type pushJob struct {
	recipient int
	session   Session
}

// Route pushes msg to every live session of its recipients in parallel. A
// failed push only affects its own session. The returned error reports
// recipient resolution problems, never transport failures.
func (r *Router) Route(ctx context.Context, msg *models.Message) (*RoutingResult, error) {
	start := time.Now()
	defer func() { observability.RouteLatency.Observe(time.Since(start).Seconds()) }()

	recipients, err := r.Recipients(ctx, msg)
	if err != nil {
		return nil, err
	}

	frame, err := Encode(EventReceiveMessage, msg.Redacted())
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	result := &RoutingResult{MessageID: msg.ID, Recipients: make([]RecipientResult, len(recipients))}
	var jobs []pushJob
	for i, userID := range recipients {
		result.Recipients[i] = RecipientResult{UserID: userID, State: StateUndelivered}
		for _, s := range r.transport.LiveSessions(userID) {
			jobs = append(jobs, pushJob{recipient: i, session: s})
		}
	}

	observability.Annotate(ctx,
		attribute.Int("swarg.route.recipients", len(recipients)),
		attribute.Int("swarg.route.sessions", len(jobs)),
	)

	ok := make([]atomic.Int32, len(recipients))
	failed := make([]atomic.Int32, len(recipients))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := r.transport.Push(ctx, job.session, frame); err != nil {
				failed[job.recipient].Add(1)
				observability.FanoutPushes.WithLabelValues("failed").Inc()
				r.log.LogError(ctx, job.session.UserID(), job.session.ID(), models.NewTransportError(err), EventReceiveMessage)
				return nil
			}
			ok[job.recipient].Add(1)
			observability.FanoutPushes.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	for i := range result.Recipients {
		rec := &result.Recipients[i]
		rec.Failed = int(failed[i].Load())
		rec.Sessions = rec.Failed + int(ok[i].Load())
		if ok[i].Load() > 0 {
			rec.State = StateDelivered
		}
		observability.FanoutRecipients.WithLabelValues(string(rec.State)).Inc()
	}

	r.relayFrame(ctx, recipients, frame)
	return result, nil
}

// Signal pushes an ephemeral event to every live session of userIDs. It is
// at most once: nothing is stored, retried or reported back.
func (r *Router) Signal(ctx context.Context, userIDs []uint, event string, data interface{}) {
	userIDs = lo.Uniq(userIDs)
	if len(userIDs) == 0 {
		return
	}
	frame, err := Encode(event, data)
	if err != nil {
		r.log.LogLifecycle(ctx, "signal_encode_failed", map[string]interface{}{"event": event, "error": err.Error()})
		return
	}
	for _, userID := range userIDs {
		for _, s := range r.transport.LiveSessions(userID) {
			if err := r.transport.Push(ctx, s, frame); err != nil {
				observability.FanoutPushes.WithLabelValues("dropped").Inc()
			}
		}
	}
	r.relayFrame(ctx, userIDs, frame)
}

// NotifyStatus sends message-status receipts to the senders of the changed
// messages.
func (r *Router) NotifyStatus(ctx context.Context, changes []models.StatusChange) {
	bySender := lo.GroupBy(changes, func(c models.StatusChange) uint { return c.SenderID })
	for senderID, updates := range bySender {
		r.Signal(ctx, []uint{senderID}, EventMessageStatus, StatusData{Updates: updates})
	}
}

func (r *Router) relayFrame(ctx context.Context, userIDs []uint, frame []byte) {
	if r.relay == nil || len(userIDs) == 0 {
		return
	}
	if err := r.relay.RelayToUsers(ctx, userIDs, frame); err != nil {
		r.log.LogLifecycle(ctx, "relay_failed", map[string]interface{}{"users": len(userIDs), "error": err.Error()})
	}
}
