package pact

import (
	"time"

	"github.com/holiman/uint256"
)

// Prorate returns the unused portion of stake after active seconds of an
// interval-second pay period: stake - floor(stake*active/interval). The
// consumed share truncates, so any remainder goes to the payer's refund.
// Nothing is refunded once the period is used up.
func Prorate(stake *uint256.Int, active, interval uint64) *uint256.Int {
	if stake == nil || stake.IsZero() || interval == 0 || active >= interval {
		return new(uint256.Int)
	}
	consumed, overflow := new(uint256.Int).MulDivOverflow(stake, uint256.NewInt(active), uint256.NewInt(interval))
	if overflow || consumed.Gt(stake) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(stake, consumed)
}

// activeSeconds is the accumulated active time including the running
// interval when the pact is ACTIVE.
func (p *Pact) activeSeconds(now time.Time) uint64 {
	total := p.ActiveSeconds
	if p.State == StateActive && p.ResumedAt != nil {
		total += elapsed(*p.ResumedAt, now)
	}
	return total
}

func elapsed(from, to time.Time) uint64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
