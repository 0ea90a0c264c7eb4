package vm

import (
	"github.com/emberchain/ember/pkg/metrics"
	"github.com/emberchain/ember/pkg/types"
)

// BounceCoordinator synthesizes the inverse message returned to a sender
// when a bounce-flagged internal message fails.
type BounceCoordinator struct {
	// bodyBudget caps the echoed body bytes; the selector always survives.
	bodyBudget int
	// fee is deducted from the returned value. A bounce that cannot cover
	// it is dropped, never bounced again.
	fee types.TokenAmount
}

func NewBounceCoordinator(bodyBudget int, fee types.TokenAmount) *BounceCoordinator {
	return &BounceCoordinator{bodyBudget: bodyBudget, fee: fee}
}

// Synthesize builds the bounce for a failed message, or returns nil when the
// failure is absorbed silently: the message was not bounce-eligible, was
// itself a bounce, or its value cannot fund the bounce fee. Bounces never
// cascade: the result carries Bounce=false.
func (b *BounceCoordinator) Synthesize(failed *types.Message) *types.Message {
	if failed.Kind != types.Internal || !failed.Bounce || failed.Bounced {
		return nil
	}
	if !b.fee.LessThan(failed.Value) {
		return nil
	}

	params := failed.Body.Params
	if len(params) > b.bodyBudget {
		params = params[:b.bodyBudget]
	}
	bounce := types.NewInternal(failed.To, failed.From, types.Body{
		Selector: failed.Body.Selector,
		Params:   params,
	}, failed.Value.Sub(b.fee), false)
	bounce.Bounced = true
	metrics.BouncesSent.Inc()
	return bounce
}
