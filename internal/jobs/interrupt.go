// Package jobs implements the five pipeline stages the supervisor
// sequences (§4.2-§4.4, §4.6-§4.8): Retrieve-Blocks, Retrieve-Runtime-State,
// ScaleDecode, Cron-Retry, and the Storage-Task worker. Each job commits
// its own store.Tx per unit of work (per block, or per decode window) and
// checks an InterruptToken between units, matching §5's "interrupt flag is
// polled only at job-visible boundaries ... mid-block work is not
// interrupted mid-transaction."
package jobs

import "sync/atomic"

// InterruptToken is flipped by the supervisor's signal handler and threaded
// through every job call (§9: "model as an interrupt token threaded
// through each stage; the signal handler flips the token; stages check
// between units of work").
type InterruptToken struct {
	flag int32
}

func NewInterruptToken() *InterruptToken { return &InterruptToken{} }

func (t *InterruptToken) Set()          { atomic.StoreInt32(&t.flag, 1) }
func (t *InterruptToken) Requested() bool { return atomic.LoadInt32(&t.flag) == 1 }
