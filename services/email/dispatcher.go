package emailsvc

import (
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/eschool-app/eschool/core"
)

const maxConcurrentSends = 4

// dispatcher delivers batches of messages in the background, at most maxConcurrentSends at a time.
type dispatcher struct {
	wg conc.WaitGroup
}

func (d *dispatcher) dispatch(messages []*core.EmailMessage, deliver func(msg *core.EmailMessage)) {
	if len(messages) == 0 {
		return
	}
	d.wg.Go(func() {
		p := pool.New().WithMaxGoroutines(maxConcurrentSends)
		for _, msg := range messages {
			msg := msg
			p.Go(func() { deliver(msg) })
		}
		p.Wait()
	})
}

// Wait blocks until every dispatched message has been handled.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

// deliverable renders msg and reports whether there is something to send.
func deliverable(msg *core.EmailMessage, logger core.Logger) bool {
	if err := msg.Render(); err != nil {
		logger.Error("rendering email: "+err.Error(), err)
		return false
	}
	return msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments())
}
