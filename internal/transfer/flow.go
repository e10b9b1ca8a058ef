package transfer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/sigstream/internal/config"
	"github.com/meshcommons/sigstream/internal/metrics"
	"github.com/meshcommons/sigstream/internal/transport"
)

// ErrRetryExhausted means the transport stayed backpressured for the full
// retry ceiling. It is fatal for the whole transfer: persistent
// backpressure bounds worst-case delay by ending the session instead of
// retrying forever.
var ErrRetryExhausted = errors.New("transfer: retry ceiling reached")

// FlowController throttles frame emission to the credit granted by the
// transport and retries transient rejections with exponential backoff.
type FlowController struct {
	link transport.Link
	met  *metrics.Metrics
	log  *zap.Logger

	creditWait  time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int
}

// NewFlowController builds a FlowController from the transfer config.
// met may be nil.
func NewFlowController(cfg config.TransferConfig, link transport.Link, met *metrics.Metrics, log *zap.Logger) *FlowController {
	return &FlowController{
		link:        link,
		met:         met,
		log:         log,
		creditWait:  cfg.CreditWait.Std(),
		backoffBase: cfg.BackoffBase.Std(),
		backoffMax:  cfg.BackoffMax.Std(),
		maxAttempts: cfg.RetryCeiling,
	}
}

// Send hands one frame to the transport, waiting for credit first.
// A credit timeout or a busy rejection is transient and consumes one
// attempt; any other transport error is returned as-is. The attempt
// counter is per frame, so a successful hand-off resets it implicitly.
func (f *FlowController) Send(ctx context.Context, frame []byte) error {
	backoff := f.backoffBase
	credit := false

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// One credit covers the frame across busy retries: the frame was
		// never accepted, so the permit is still ours.
		if !credit {
			if !f.link.AcquireCredit(ctx, f.creditWait) {
				if err := ctx.Err(); err != nil {
					return err
				}
				f.retryInc()
				f.log.Debug("flow: no credit",
					zap.Int("attempt", attempt),
					zap.Duration("waited", f.creditWait),
				)
				continue
			}
			credit = true
		}

		err := f.link.SendFrame(frame)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrBusy) {
			return err
		}

		f.retryInc()
		f.log.Debug("flow: transport busy",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, f.backoffMax)
	}
	return ErrRetryExhausted
}

func (f *FlowController) retryInc() {
	if f.met != nil {
		f.met.SendRetries.Inc()
	}
}
