// Package redisq implements the reliable order queue on Redis Streams with a
// consumer group, delayed retries, and a dead-letter stream.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/calebwray/swapflow/internal/domain"
)

const (
	defaultStream     = "orders:jobs"
	defaultGroup      = "order-workers"
	defaultDeadStream = "orders:dead"
	defaultRetrySet   = "orders:retry"

	// streamMaxLen is the approximate maximum stream length, enforced via
	// XADD MAXLEN ~.
	streamMaxLen int64 = 10000

	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
	defaultConcurrency = 4

	// readBlock is how long one XREADGROUP call blocks waiting for work.
	readBlock = 2 * time.Second

	// retryPollInterval is how often the mover checks the delay set.
	retryPollInterval = time.Second

	// claimMinIdle is how long a delivered-but-unacked message must sit
	// before the sweeper reclaims it for another consumer.
	claimMinIdle = time.Minute
)

// Processor handles one job delivery. The job pointer is live: mutations the
// processor makes (emitted statuses, last error) travel with the payload into
// retries and the dead-letter stream.
type Processor func(ctx context.Context, job *domain.OrderJob) error

// OnFailedFunc fires after a job exhausts its attempts or fails permanently,
// with the final error.
type OnFailedFunc func(ctx context.Context, job domain.OrderJob, err error)

// Config holds queue construction parameters.
type Config struct {
	Stream      string
	Group       string
	Consumer    string
	DeadStream  string
	RetrySet    string
	MaxAttempts int
	BaseBackoff time.Duration
	Concurrency int
}

// envelope is the wire form of one queued delivery.
type envelope struct {
	ID      string          `json:"id"`
	Attempt int             `json:"attempt"`
	Job     domain.OrderJob `json:"job"`
}

// Queue is a Redis Streams consumer-group queue for order jobs.
type Queue struct {
	rdb         *redis.Client
	stream      string
	group       string
	consumer    string
	deadStream  string
	retrySet    string
	maxAttempts int
	baseBackoff time.Duration
	concurrency int
	onFailed    OnFailedFunc
	logger      *slog.Logger
}

// New creates a Queue on rdb. The consumer group is created on Start.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Queue {
	stream := cfg.Stream
	if stream == "" {
		stream = defaultStream
	}
	group := cfg.Group
	if group == "" {
		group = defaultGroup
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "consumer-" + uuid.NewString()[:8]
	}
	deadStream := cfg.DeadStream
	if deadStream == "" {
		deadStream = defaultDeadStream
	}
	retrySet := cfg.RetrySet
	if retrySet == "" {
		retrySet = defaultRetrySet
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Queue{
		rdb:         rdb,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		deadStream:  deadStream,
		retrySet:    retrySet,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "queue")),
	}
}

// SetOnFailed registers the hook invoked when a job is given up on. Must be
// called before Start.
func (q *Queue) SetOnFailed(fn OnFailedFunc) {
	q.onFailed = fn
}

// Enqueue appends a first-attempt delivery for job to the stream.
func (q *Queue) Enqueue(ctx context.Context, job domain.OrderJob) error {
	env := envelope{
		ID:      uuid.NewString(),
		Attempt: 1,
		Job:     job,
	}
	if err := q.appendEnvelope(ctx, env); err != nil {
		return err
	}
	q.logger.InfoContext(ctx, "job enqueued",
		slog.String("order_id", job.OrderID),
		slog.String("delivery_id", env.ID),
	)
	return nil
}

func (q *Queue) appendEnvelope(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisq: marshal envelope for %s: %w", env.Job.OrderID, err)
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisq: enqueue %s: %w", env.Job.OrderID, err)
	}
	return nil
}

// Start creates the consumer group and runs the consumer loops, the retry
// mover, and the stale-claim sweeper until ctx is cancelled. It blocks.
func (q *Queue) Start(ctx context.Context, proc Processor) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisq: create consumer group: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumer, i)
		g.Go(func() error {
			return q.consumeLoop(ctx, consumer, proc)
		})
	}
	g.Go(func() error {
		return q.retryMoverLoop(ctx)
	})
	g.Go(func() error {
		return q.claimSweeperLoop(ctx, proc)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consumeLoop reads fresh deliveries for one consumer name until ctx ends.
func (q *Queue) consumeLoop(ctx context.Context, consumer string, proc Processor) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.logger.WarnContext(ctx, "read group failed",
				slog.String("consumer", consumer),
				slog.String("error", err.Error()),
			)
			sleepCtx(ctx, readBlock)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handleMessage(ctx, msg, proc)
			}
		}
	}
}

// settlement is the fate of a finished delivery.
type settlement int

const (
	// settleAck drops the delivery: processing succeeded.
	settleAck settlement = iota
	// settleRetry parks the next attempt on the delay set.
	settleRetry
	// settleDead gives up: dead-letter and fire OnFailed.
	settleDead
)

// settleFor decides how a delivery is settled after processing: success acks,
// permanent errors and exhausted attempts dead-letter, anything else retries.
func settleFor(procErr error, attempt, maxAttempts int) settlement {
	switch {
	case procErr == nil:
		return settleAck
	case domain.Permanent(procErr) || attempt >= maxAttempts:
		return settleDead
	default:
		return settleRetry
	}
}

// handleMessage processes one delivery and settles it: ack on success,
// delayed retry or dead-letter on failure. Settlement happens before the ack
// so a crash in between leaves the delivery pending for the sweeper instead
// of losing it.
func (q *Queue) handleMessage(ctx context.Context, msg redis.XMessage, proc Processor) {
	env, ok := q.decodeMessage(msg)
	// Undecodable messages are acked away; they can never succeed.
	if !ok {
		q.ack(ctx, msg.ID)
		return
	}

	procErr := proc(ctx, &env.Job)

	switch settleFor(procErr, env.Attempt, q.maxAttempts) {
	case settleDead:
		q.deadLetter(ctx, env, procErr)
	case settleRetry:
		if !q.scheduleRetry(ctx, env, procErr) {
			// The retry could not be parked; dead-letter so the order
			// still reaches a terminal failed state.
			q.deadLetter(ctx, env, procErr)
		}
	}
	q.ack(ctx, msg.ID)
}

func (q *Queue) decodeMessage(msg redis.XMessage) (envelope, bool) {
	payload, ok := msg.Values["payload"]
	if !ok {
		q.logger.Warn("stream message without payload", slog.String("message_id", msg.ID))
		return envelope{}, false
	}
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		q.logger.Warn("stream payload has unexpected type", slog.String("message_id", msg.ID))
		return envelope{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		q.logger.Warn("undecodable stream payload",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return envelope{}, false
	}
	return env, true
}

func (q *Queue) ack(ctx context.Context, messageID string) {
	if err := q.rdb.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		q.logger.WarnContext(ctx, "ack failed",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
	}
}

// scheduleRetry parks the next attempt on the delay set. It reports whether
// the retry was durably stored; on false the caller must settle the delivery
// another way.
func (q *Queue) scheduleRetry(ctx context.Context, env envelope, cause error) bool {
	delay := q.backoff(env.Attempt)
	env.Attempt++

	payload, err := json.Marshal(env)
	if err != nil {
		q.logger.ErrorContext(ctx, "marshal retry envelope",
			slog.String("order_id", env.Job.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}

	due := time.Now().Add(delay)
	if err := q.rdb.ZAdd(ctx, q.retrySet, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		q.logger.ErrorContext(ctx, "schedule retry",
			slog.String("order_id", env.Job.OrderID),
			slog.String("error", err.Error()),
		)
		return false
	}

	q.logger.InfoContext(ctx, "job scheduled for retry",
		slog.String("order_id", env.Job.OrderID),
		slog.Int("attempt", env.Attempt),
		slog.Duration("delay", delay),
		slog.String("cause", cause.Error()),
	)
	return true
}

// backoff returns the delay before the attempt following attempt: base,
// 2*base, 4*base, ...
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// deadLetter records the exhausted delivery and fires the OnFailed hook.
func (q *Queue) deadLetter(ctx context.Context, env envelope, cause error) {
	env.Job.LastError = cause.Error()

	payload, err := json.Marshal(env)
	if err != nil {
		q.logger.ErrorContext(ctx, "marshal dead letter",
			slog.String("order_id", env.Job.OrderID),
			slog.String("error", err.Error()),
		)
	} else {
		args := &redis.XAddArgs{
			Stream: q.deadStream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"payload": payload,
				"error":   cause.Error(),
				"at":      strconv.FormatInt(time.Now().UnixMilli(), 10),
			},
		}
		if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
			q.logger.ErrorContext(ctx, "dead letter append",
				slog.String("order_id", env.Job.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	q.logger.WarnContext(ctx, "job dead-lettered",
		slog.String("order_id", env.Job.OrderID),
		slog.Int("attempt", env.Attempt),
		slog.String("cause", cause.Error()),
	)

	if q.onFailed != nil {
		q.onFailed(ctx, env.Job, cause)
	}
}

// retryMoverLoop moves due retries from the delay set back onto the stream.
func (q *Queue) retryMoverLoop(ctx context.Context) error {
	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		members, err := q.rdb.ZRangeByScore(ctx, q.retrySet, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   now,
			Count: 32,
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				q.logger.WarnContext(ctx, "retry poll failed", slog.String("error", err.Error()))
			}
			continue
		}

		for _, member := range members {
			// ZREM decides ownership when several movers race.
			removed, err := q.rdb.ZRem(ctx, q.retrySet, member).Result()
			if err != nil || removed == 0 {
				continue
			}

			var env envelope
			if err := json.Unmarshal([]byte(member), &env); err != nil {
				q.logger.Warn("undecodable retry member", slog.String("error", err.Error()))
				continue
			}
			if err := q.appendEnvelope(ctx, env); err != nil {
				q.logger.ErrorContext(ctx, "requeue retry",
					slog.String("order_id", env.Job.OrderID),
					slog.String("error", err.Error()),
				)
				// Put it back so the delivery is not lost.
				_ = q.rdb.ZAdd(ctx, q.retrySet, redis.Z{
					Score:  float64(time.Now().UnixMilli()),
					Member: member,
				}).Err()
			}
		}
	}
}

// claimSweeperLoop reclaims deliveries stuck pending on dead consumers and
// reprocesses them here.
func (q *Queue) claimSweeperLoop(ctx context.Context, proc Processor) error {
	ticker := time.NewTicker(claimMinIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer + "-sweeper",
			MinIdle:  claimMinIdle,
			Start:    "0-0",
			Count:    16,
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				q.logger.WarnContext(ctx, "autoclaim failed", slog.String("error", err.Error()))
			}
			continue
		}

		for _, msg := range msgs {
			q.logger.InfoContext(ctx, "reclaimed stale delivery", slog.String("message_id", msg.ID))
			q.handleMessage(ctx, msg, proc)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Compile-time interface check.
var _ domain.Enqueuer = (*Queue)(nil)
