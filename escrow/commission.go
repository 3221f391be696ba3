package escrow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ErrInvalidRate is returned for a zero denominator or a rate of 100% or more.
var ErrInvalidRate = errors.New("escrow: invalid commission rate")

// Rate is a commission fraction.
type Rate struct {
	Numerator   uint64
	Denominator uint64
}

func PerCent(n uint64) Rate  { return Rate{Numerator: n, Denominator: 100} }
func PerMille(n uint64) Rate { return Rate{Numerator: n, Denominator: 1000} }

func (r Rate) Validate() error {
	if r.Denominator == 0 {
		return fmt.Errorf("%w: zero denominator", ErrInvalidRate)
	}
	if r.Numerator >= r.Denominator {
		return fmt.Errorf("%w: %d/%d", ErrInvalidRate, r.Numerator, r.Denominator)
	}
	return nil
}

func (r Rate) String() string { return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator) }

// Of returns ceil(gross * rate). Rounding goes to the sink.
func (r Rate) Of(gross *uint256.Int) *uint256.Int {
	if gross == nil || gross.IsZero() || r.Numerator == 0 || r.Denominator == 0 {
		return new(uint256.Int)
	}
	num := uint256.NewInt(r.Numerator)
	den := uint256.NewInt(r.Denominator)
	q, _ := new(uint256.Int).MulDivOverflow(gross, num, den)
	if !new(uint256.Int).MulMod(gross, num, den).IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// Policy decides which side of a pass-through payment bears the commission.
// Only PolicyPayee keeps Net + Commission == Gross; the others charge the
// sender more than gross and are opt-in.
type Policy string

const (
	// PolicyPayee deducts the commission from what the recipient receives.
	// It is the default.
	PolicyPayee Policy = "payee"
	// PolicyPayer adds the commission on top of the amount the payer sends.
	PolicyPayer Policy = "payer"
	// PolicyShared splits it, the payer covering the odd unit.
	PolicyShared Policy = "shared"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyPayer, PolicyPayee, PolicyShared:
		return p, nil
	case "":
		return PolicyPayee, nil
	default:
		return "", fmt.Errorf("escrow: unknown commission policy %q", s)
	}
}

// Split is the breakdown of one pass-through payment. Charge is what the
// sender parts with, Net what the recipient gets; Charge == Net + Commission.
type Split struct {
	Gross      *uint256.Int
	Charge     *uint256.Int
	Net        *uint256.Int
	Commission *uint256.Int
}

// Split computes the legs for gross under the policy.
func (p Policy) Split(gross *uint256.Int, rate Rate) Split {
	if gross == nil {
		gross = new(uint256.Int)
	}
	c := rate.Of(gross)

	var payerPart, payeePart *uint256.Int
	switch p {
	case PolicyPayer:
		payerPart, payeePart = c.Clone(), new(uint256.Int)
	case PolicyShared:
		half := new(uint256.Int).Rsh(c, 1)
		payeePart = half
		payerPart = new(uint256.Int).Sub(c, half)
	default:
		payerPart, payeePart = new(uint256.Int), c.Clone()
	}

	return Split{
		Gross:      gross.Clone(),
		Charge:     new(uint256.Int).Add(gross, payerPart),
		Net:        new(uint256.Int).Sub(gross, payeePart),
		Commission: c,
	}
}
