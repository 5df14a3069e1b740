package notify

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// Dispatcher fans one logical notification out to every linked channel
// and aggregates the per-channel results into a single Outcome.
type Dispatcher struct {
	senders []Sender
	limiter *rate.Limiter
	log     logx.Logger
}

type DispatcherConfig struct {
	// RatePerSec limits outbound sends across all channels (token bucket).
	RatePerSec int
}

func NewDispatcher(cfg DispatcherConfig, log logx.Logger, senders ...Sender) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	per := cfg.RatePerSec
	if per <= 0 {
		per = 3
	}
	return &Dispatcher{
		senders: senders,
		limiter: rate.NewLimiter(rate.Limit(per), per),
		log:     log,
	}
}

// AvailableChannels lists the channels the user is currently linked to,
// in sender order. Callers use it to skip expensive work (data fetches)
// when nothing is linked.
func (d *Dispatcher) AvailableChannels(u storage.User) []string {
	var channels []string
	for _, s := range d.senders {
		if s.Available(u) {
			channels = append(channels, s.Name())
		}
	}
	return channels
}

// Send delivers text to every linked channel. Unlinked channels are
// skipped (absent from the outcome, not failed). A sender that panics is
// contained and counted as a failure; it never aborts the other senders.
func (d *Dispatcher) Send(ctx context.Context, u storage.User, text string) Outcome {
	out := Outcome{Sent: map[string]bool{}}
	var delivered []string

	for _, s := range d.senders {
		if !s.Available(u) {
			continue
		}
		ok := d.trySend(ctx, s, u, text)
		out.Sent[s.Name()] = ok
		if ok {
			out.Success = true
			delivered = append(delivered, s.DisplayName())
		} else {
			out.Failed = append(out.Failed, s.Name())
		}
	}

	if out.Success {
		out.Summary = "delivered via " + strings.Join(delivered, ", ")
	} else {
		out.Summary = "delivery failed: no channel linked or every linked channel failed"
	}

	d.log.Debug("dispatch finished",
		logx.Bool("success", out.Success),
		logx.Int("attempted", len(out.Sent)),
		logx.Int("failed", len(out.Failed)))
	return out
}

// trySend wraps one sender invocation. An unexpected panic is treated the
// same as a false return.
func (d *Dispatcher) trySend(ctx context.Context, s Sender, u storage.User, text string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sender panicked", logx.String("channel", s.Name()), logx.Any("panic", r))
			ok = false
		}
	}()
	if err := d.limiter.Wait(ctx); err != nil {
		d.log.Warn("send rate wait aborted", logx.String("channel", s.Name()), logx.Err(err))
		return false
	}
	return s.Send(ctx, u, text)
}
