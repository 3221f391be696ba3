// Package pact implements the escrow-backed pact lifecycle: creation,
// bilateral signing, pause/resume accounting, termination with proration,
// full-and-final settlement, disputes and arbitration.
package pact

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"pactflow/escrow"
	"pactflow/outbox"
	"pactflow/sigcodec"
	"pactflow/types"
)

// Observer receives committed transitions, failures and money movement.
type Observer interface {
	ObserveTransition(op, from, to string)
	ObserveFailure(op, code string)
	ObserveEscrow(leg string, amount *big.Int)
}

type noopObserver struct{}

func (noopObserver) ObserveTransition(string, string, string) {}
func (noopObserver) ObserveFailure(string, string)            {}
func (noopObserver) ObserveEscrow(string, *big.Int)           {}

type Service struct {
	store       Store
	ledger      *escrow.Ledger
	sigVersion  string
	now         func() time.Time
	idGenerator func() string
	logger      *slog.Logger
	observer    Observer
}

func NewService(store Store, ledger *escrow.Ledger) *Service {
	return &Service{
		store:       store,
		ledger:      ledger,
		sigVersion:  sigcodec.VersionV1,
		now:         time.Now,
		idGenerator: uuid.NewString,
		logger:      slog.Default(),
		observer:    noopObserver{},
	}
}

// WithClock overrides the host clock used for every timestamp.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
		s.ledger.WithClock(now)
	}
	return s
}

// WithIDGenerator overrides the outbox message ID generator.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.idGenerator = gen
	}
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithObserver(o Observer) *Service {
	if o != nil {
		s.observer = o
	}
	return s
}

// WithSignatureVersion selects the digest layout parties must sign.
func (s *Service) WithSignatureVersion(version string) *Service {
	if version != "" {
		s.sigVersion = version
	}
	return s
}

// Ledger exposes the escrow configuration for quoting.
func (s *Service) Ledger() *escrow.Ledger { return s.ledger }

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Create registers a new pact in DEPLOYED.
func (s *Service) Create(ctx context.Context, creator types.Address, terms Terms) (Pact, error) {
	const op = "create"
	if creator.IsZero() {
		return Pact{}, s.fail(op, fmt.Errorf("%w: creator required", ErrInvalidTerms))
	}
	terms.Name = strings.TrimSpace(terms.Name)
	if err := terms.Validate(); err != nil {
		return Pact{}, s.fail(op, err)
	}
	if _, err := sigcodec.Lookup(s.sigVersion); err != nil {
		return Pact{}, s.fail(op, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	nonce, err := tx.NextNonce(ctx)
	if err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: next nonce: %w", err))
	}

	now := s.clock()
	p := &Pact{
		ID:            DeriveID(creator, terms, nonce),
		Creator:       creator,
		Terms:         terms,
		State:         StateDeployed,
		Stake:         new(uint256.Int),
		LastPayAmount: new(uint256.Int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.Terms.Amount = terms.Amount.Clone()

	if err := tx.InsertPact(ctx, p); err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: insert: %w", err))
	}

	m := &mutation{
		op:    op,
		actor: creator,
		event: "PACT_CREATED",
		now:   now,
		payload: map[string]any{
			"name":         p.Terms.Name,
			"payer":        p.Terms.Payer.Hex(),
			"payee":        p.Terms.Payee.Hex(),
			"interval":     p.Terms.Interval,
			"amount":       p.Terms.Amount.Dec(),
			"denomination": p.Terms.Denomination.String(),
			"nonce":        nonce,
		},
	}
	if err := s.record(ctx, tx, p, "", m); err != nil {
		return Pact{}, s.fail(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: commit: %w", err))
	}

	s.observer.ObserveTransition(op, "", string(p.State))
	s.logger.Info("pact created", "pact_id", p.ID.Hex(), "creator", creator.Hex(), "payer", p.Terms.Payer.Hex(), "payee", p.Terms.Payee.Hex())
	return p.Clone(), nil
}

// Get returns the current pact record.
func (s *Service) Get(ctx context.Context, id types.Hash) (Pact, error) {
	return s.store.GetPact(ctx, id)
}

// List returns pacts the party is involved in, newest first, and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Pact, int, error) {
	filter.normalize()
	return s.store.ListPacts(ctx, filter)
}

func (s *Service) Timeline(ctx context.Context, id types.Hash) ([]TimelineEvent, error) {
	return s.store.Timeline(ctx, id)
}

// Digest is the value a party signs to consent to the pact at timestamp.
func (s *Service) Digest(ctx context.Context, id types.Hash, timestamp int64) (types.Hash, error) {
	p, err := s.store.GetPact(ctx, id)
	if err != nil {
		return types.Hash{}, err
	}
	return sigcodec.Digest(s.sigVersion, p.Material(timestamp))
}

// DeriveID hashes the creator, the canonical terms and the environment
// counter into a pact identifier.
func DeriveID(creator types.Address, terms Terms, nonce uint64) types.Hash {
	var interval, n [8]byte
	binary.BigEndian.PutUint64(interval[:], terms.Interval)
	binary.BigEndian.PutUint64(n[:], nonce)
	amount := types.CloneAmount(terms.Amount).Bytes32()
	return sigcodec.Keccak256(
		[]byte("pact-id"),
		creator[:],
		[]byte(strings.ToLower(terms.Name)),
		terms.Payer[:],
		terms.Payee[:],
		interval[:],
		amount[:],
		[]byte(terms.Denomination.String()),
		[]byte(terms.ExternalRef),
		n[:],
	)
}

// mutation collects what a transition wants recorded once it succeeds.
type mutation struct {
	op       string
	actor    types.Address
	event    string
	payload  map[string]any
	receipts []leg
	now      time.Time
	noop     bool
}

type leg struct {
	kind    string
	receipt escrow.Receipt
}

func (m *mutation) moved(kind string, r escrow.Receipt) {
	m.receipts = append(m.receipts, leg{kind: kind, receipt: r})
}

func (m *mutation) set(key string, value any) {
	if m.payload == nil {
		m.payload = make(map[string]any)
	}
	m.payload[key] = value
}

// apply runs fn against the locked pact inside one transaction and writes
// the pact, its timeline event and outbox messages before committing.
func (s *Service) apply(ctx context.Context, op string, id types.Hash, actor types.Address, fn func(ctx context.Context, tx Tx, p *Pact, m *mutation) error) (Pact, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	p, err := tx.LockPact(ctx, id)
	if err != nil {
		return Pact{}, s.fail(op, err)
	}
	if p.State.Terminal() {
		return Pact{}, s.fail(op, fmt.Errorf("%w: pact is %s", ErrWrongState, p.State))
	}

	from := p.State
	m := &mutation{op: op, actor: actor, now: s.clock()}
	if err := fn(ctx, tx, p, m); err != nil {
		return Pact{}, s.fail(op, err)
	}
	if m.noop {
		return p.Clone(), nil
	}

	p.UpdatedAt = m.now
	if err := tx.UpdatePact(ctx, p); err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: update: %w", err))
	}
	if err := s.record(ctx, tx, p, from, m); err != nil {
		return Pact{}, s.fail(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Pact{}, s.fail(op, fmt.Errorf("pact: commit %s: %w", op, err))
	}

	s.observer.ObserveTransition(op, string(from), string(p.State))
	for _, l := range m.receipts {
		s.observer.ObserveEscrow(l.kind+"_net", l.receipt.Net.ToBig())
		s.observer.ObserveEscrow("commission", l.receipt.Commission.ToBig())
	}
	s.logger.Info("pact transition",
		"op", op,
		"pact_id", p.ID.Hex(),
		"from", from,
		"to", p.State,
		"actor", actor.Hex(),
	)
	return p.Clone(), nil
}

func (s *Service) fail(op string, err error) error {
	code := ErrorCode(err)
	s.observer.ObserveFailure(op, code)
	if code == "internal" {
		s.logger.Error("pact operation failed", "op", op, "error", err)
	} else {
		s.logger.Debug("pact operation rejected", "op", op, "code", code, "error", err)
	}
	return err
}

func (s *Service) record(ctx context.Context, tx Tx, p *Pact, from State, m *mutation) error {
	payload := map[string]any{
		"previous_status": string(from),
		"next_status":     string(p.State),
		"actor":           m.actor.Hex(),
	}
	for k, v := range m.payload {
		payload[k] = v
	}
	if len(m.receipts) > 0 {
		legs := make([]map[string]any, 0, len(m.receipts))
		for _, l := range m.receipts {
			legs = append(legs, map[string]any{
				"kind":       l.kind,
				"recipient":  l.receipt.Recipient.Hex(),
				"gross":      types.FormatAmount(l.receipt.Gross),
				"charge":     types.FormatAmount(l.receipt.Charge),
				"net":        types.FormatAmount(l.receipt.Net),
				"commission": types.FormatAmount(l.receipt.Commission),
			})
		}
		payload["escrow"] = legs
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pact: marshal timeline payload: %w", err)
	}
	event := TimelineEvent{
		PactID:    p.ID,
		Type:      m.event,
		Actor:     m.actor,
		Payload:   payloadBytes,
		CreatedAt: m.now,
	}
	if err := tx.AppendTimeline(ctx, event); err != nil {
		return fmt.Errorf("pact: insert timeline event: %w", err)
	}

	topic := OutboxTopicPactUpdated
	if from == "" {
		topic = OutboxTopicPactCreated
	}
	if err := s.enqueue(ctx, tx, topic, m.now, map[string]any{
		"pact_id":  p.ID.Hex(),
		"event":    m.event,
		"previous": string(from),
		"next":     string(p.State),
	}); err != nil {
		return err
	}
	for _, l := range m.receipts {
		if err := s.enqueue(ctx, tx, OutboxTopicEscrowMoved, m.now, map[string]any{
			"pact_id":    p.ID.Hex(),
			"kind":       l.kind,
			"recipient":  l.receipt.Recipient.Hex(),
			"net":        types.FormatAmount(l.receipt.Net),
			"commission": types.FormatAmount(l.receipt.Commission),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, tx Tx, topic string, now time.Time, payload map[string]any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pact: marshal outbox payload: %w", err)
	}
	msg := outbox.Message{
		ID:        s.idGenerator(),
		Topic:     topic,
		Payload:   payloadBytes,
		Status:    outbox.StatusPending,
		CreatedAt: now,
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return fmt.Errorf("pact: insert outbox message: %w", err)
	}
	return nil
}
