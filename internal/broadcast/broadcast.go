// Package broadcast fans a message out to a set of recipients through an
// ordered list of delivery strategies.
//
// Each recipient is independent: strategies are tried in order and the
// first success wins; a recipient counts as failed only when every
// strategy failed. One recipient's failure never aborts the rest.
package broadcast

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"guardbot/internal/transport"
	"guardbot/pkg/logx"
)

// Strategy is one concrete way of delivering a message to a recipient.
type Strategy interface {
	Name() string
	Deliver(ctx context.Context, to transport.ChatTarget, text string) error
}

// Result is the per-invocation aggregate tally.
type Result struct {
	Success int
	Fail    int
}

type Dispatcher struct {
	strategies []Strategy
	limiter    *rate.Limiter
	log        logx.Logger
}

func New(strategies []Strategy, ratePerSec int, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		strategies: strategies,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:        log,
	}
}

// Broadcast delivers text to every user id, pacing sends against the
// platform's flood limits. Only the aggregate tally is reported; per-
// strategy failures are logged at debug and otherwise swallowed.
func (d *Dispatcher) Broadcast(ctx context.Context, userIDs []int64, text string) Result {
	var res Result
	for i, id := range userIDs {
		if err := d.limiter.Wait(ctx); err != nil {
			// Context gone: everything not yet attempted is a failure.
			res.Fail += len(userIDs) - i
			d.log.Warn("broadcast aborted", logx.Err(err), logx.Int("remaining", len(userIDs)-i))
			break
		}
		if err := d.SendOne(ctx, id, text); err != nil {
			res.Fail++
		} else {
			res.Success++
		}
	}
	return res
}

// SendOne tries each strategy in order for a single recipient and returns
// nil on the first success, or the last strategy's error after exhaustion.
func (d *Dispatcher) SendOne(ctx context.Context, userID int64, text string) error {
	to := transport.ChatTarget{ChatID: userID}
	var last error
	for _, st := range d.strategies {
		err := st.Deliver(ctx, to, text)
		if err == nil {
			return nil
		}
		last = err
		d.log.Debug("delivery strategy failed",
			logx.String("strategy", st.Name()), logx.Int64("user", userID), logx.Err(err))
	}
	if last == nil {
		last = errors.New("broadcast: no delivery strategies configured")
	}
	d.log.Warn("all delivery strategies exhausted", logx.Int64("user", userID), logx.Err(last))
	return last
}

// ---- Concrete strategies ----

// adapterStrategy sends through the transport client library.
type adapterStrategy struct {
	adapter transport.Adapter
}

func AdapterStrategy(a transport.Adapter) Strategy { return adapterStrategy{adapter: a} }

func (s adapterStrategy) Name() string { return "adapter" }

func (s adapterStrategy) Deliver(ctx context.Context, to transport.ChatTarget, text string) error {
	_, err := s.adapter.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// directStrategy sends through the platform's HTTP API, bypassing the
// client library; a fallback when the library's send path misbehaves.
type directStrategy struct {
	sender transport.DirectSender
}

// DirectStrategy wraps an adapter's raw-API send path. Returns nil if the
// adapter cannot send directly.
func DirectStrategy(a transport.Adapter) Strategy {
	ds, ok := a.(transport.DirectSender)
	if !ok {
		return nil
	}
	return directStrategy{sender: ds}
}

func (s directStrategy) Name() string { return "direct-api" }

func (s directStrategy) Deliver(ctx context.Context, to transport.ChatTarget, text string) error {
	return s.sender.SendTextDirect(ctx, to, text)
}

// retryStrategy retries the adapter once after a short delay, for
// transient flood-control rejections.
type retryStrategy struct {
	adapter transport.Adapter
	delay   time.Duration
}

func RetryStrategy(a transport.Adapter, delay time.Duration) Strategy {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return retryStrategy{adapter: a, delay: delay}
}

func (s retryStrategy) Name() string { return "retry" }

func (s retryStrategy) Deliver(ctx context.Context, to transport.ChatTarget, text string) error {
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	_, err := s.adapter.SendText(ctx, to, text, nil)
	return err
}

// Strategies assembles the standard ordered strategy list for an adapter,
// dropping any that the adapter cannot support.
func Strategies(a transport.Adapter) []Strategy {
	out := []Strategy{AdapterStrategy(a)}
	if ds := DirectStrategy(a); ds != nil {
		out = append(out, ds)
	}
	out = append(out, RetryStrategy(a, 0))
	return out
}
