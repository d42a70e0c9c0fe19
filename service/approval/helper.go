package approval

import (
	"context"
	"time"

	"github.com/viant/nexus/model"
)

// DecisionFunc decides what to do with a pending record.
// Return (true,  "") to approve
//
//	(false, "…") to reject with reason.
type DecisionFunc func(record *model.ApprovalRecord) (approved bool, reason string)

// AutoDecider starts a goroutine that polls Pending and applies fn to every
// record.  It returns stop() – call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context,
	svc Service,
	fn DecisionFunc,
	interval time.Duration) (stop func()) {

	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				records, _ := svc.Pending(ctx)
				for _, record := range records {
					ok, reason := fn(record)
					decision := model.DecisionApproved
					if !ok {
						decision = model.DecisionRejected
					}
					_, _ = svc.Resolve(ctx, record.RequestID, decision, "auto", reason)
				}
			}
		}
	}()
	return func() { close(done) }
}

// AutoApprove automatically approves all pending records
func AutoApprove(ctx context.Context,
	svc Service,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*model.ApprovalRecord) (bool, string) { return true, "" }, interval)
}

// AutoReject automatically rejects all pending records with the given reason
func AutoReject(ctx context.Context,
	svc Service,
	reason string,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*model.ApprovalRecord) (bool, string) { return false, reason }, interval)
}
