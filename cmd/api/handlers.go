package main

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"pactflow/auth"
	"pactflow/pact"
	"pactflow/types"
)

type fundsRequest struct {
	Value        string `json:"value"`
	Denomination string `json:"denomination"`
}

func (f fundsRequest) funds() (types.Funds, error) {
	denom, err := types.ParseDenomination(f.Denomination)
	if err != nil {
		return types.Funds{}, err
	}
	amount, err := optionalAmount(f.Value)
	if err != nil {
		return types.Funds{}, err
	}
	return types.Funds{Denomination: denom, Amount: amount}, nil
}

func optionalAmount(s string) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(uint256.Int), nil
	}
	return types.ParseAmount(s)
}

type createPactRequest struct {
	Name         string        `json:"name"`
	Payer        types.Address `json:"payer"`
	Payee        types.Address `json:"payee"`
	Interval     uint64        `json:"interval"`
	Amount       string        `json:"amount"`
	Denomination string        `json:"denomination"`
	ExternalRef  string        `json:"external_ref"`
}

type signRequest struct {
	Signature string       `json:"signature"`
	Timestamp int64        `json:"timestamp"`
	Funds     fundsRequest `json:"funds"`
}

type paymentRequest struct {
	Funds fundsRequest `json:"funds"`
}

type fnfRequest struct {
	Extra string       `json:"extra"`
	Funds fundsRequest `json:"funds"`
}

type disputeRequest struct {
	Amount string `json:"amount"`
}

type delegateRequest struct {
	Delegates  []types.Address `json:"delegates"`
	Authorized bool            `json:"authorized"`
}

type proposeRequest struct {
	Arbitrators []types.Address `json:"arbitrators"`
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

type reclaimRequest struct {
	Recipient types.Address `json:"recipient"`
}

type creditRequest struct {
	Amount       string `json:"amount"`
	Denomination string `json:"denomination"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "invalid_request", msg)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req auth.ChallengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Address.IsZero() {
		badRequest(w, "address required")
		return
	}
	c, err := s.auth.Challenge(r.Context(), req.Address)
	if err != nil {
		s.log().Error("issue challenge", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":    c.Address.Hex(),
		"message":    c.Message(),
		"expires_at": c.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      res.Token,
		"address":    res.Address.Hex(),
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
}

func accountParams(w http.ResponseWriter, r *http.Request, denomination string) (types.Address, types.Denomination, bool) {
	addr, err := types.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		badRequest(w, "invalid account address")
		return types.Address{}, types.Denomination{}, false
	}
	denom, err := types.ParseDenomination(denomination)
	if err != nil {
		badRequest(w, "invalid denomination")
		return types.Address{}, types.Denomination{}, false
	}
	return addr, denom, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	denomination := ""
	if token := r.URL.Query().Get("token"); token != "" {
		denomination = "token:" + token
	}
	addr, denom, ok := accountParams(w, r, denomination)
	if !ok {
		return
	}
	s.writeBalance(w, r, addr, denom)
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, addr types.Address, denom types.Denomination) {
	bal, err := s.balances.Balance(r.Context(), addr, denom)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":      addr.Hex(),
		"denomination": denom.String(),
		"balance":      types.FormatAmount(bal),
	})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, denom, ok := accountParams(w, r, req.Denomination)
	if !ok {
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, "invalid amount")
		return
	}
	if err := s.faucet.Credit(r.Context(), addr, denom, amount); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeBalance(w, r, addr, denom)
}

func (s *Server) handleCreatePact(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req createPactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, "invalid amount")
		return
	}
	denom, err := types.ParseDenomination(req.Denomination)
	if err != nil {
		badRequest(w, "invalid denomination")
		return
	}
	p, err := s.pacts.Create(r.Context(), caller, pact.Terms{
		Name:         req.Name,
		Payer:        req.Payer,
		Payee:        req.Payee,
		Interval:     req.Interval,
		Amount:       amount,
		Denomination: denom,
		ExternalRef:  req.ExternalRef,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPactResponse(p))
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) handleListPacts(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	filter := pact.ListFilter{
		Party:    caller,
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	if party := r.URL.Query().Get("party"); party != "" {
		addr, err := types.ParseAddress(party)
		if err != nil {
			badRequest(w, "invalid party address")
			return
		}
		filter.Party = addr
	}
	if state := r.URL.Query().Get("state"); state != "" {
		st, err := pact.ParseState(state)
		if err != nil {
			badRequest(w, "invalid state")
			return
		}
		filter.State = st
	}

	list, total, err := s.pacts.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := listResponse{
		Items:    make([]pactResponse, 0, len(list)),
		Total:    total,
		Page:     filter.Offset()/filter.Limit() + 1,
		PageSize: filter.Limit(),
	}
	for _, p := range list {
		resp.Items = append(resp.Items, toPactResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPact(w http.ResponseWriter, r *http.Request) {
	id, ok := pactID(w, r)
	if !ok {
		return
	}
	p, err := s.pacts.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPactResponse(p))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pactID(w, r)
	if !ok {
		return
	}
	if _, err := s.pacts.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	events, err := s.pacts.Timeline(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toTimelineResponse(events)})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	id, ok := pactID(w, r)
	if !ok {
		return
	}
	ts := time.Now().Unix()
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "timestamp must be unix seconds")
			return
		}
		ts = parsed
	}
	p, err := s.pacts.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	digest, err := s.pacts.Digest(r.Context(), id, ts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	total, _ := s.pacts.DepositQuote(p.Terms.Amount)
	writeJSON(w, http.StatusOK, digestResponse{
		Digest:    digest.Hex(),
		Timestamp: ts,
		Version:   s.pacts.SignatureVersion(),
		Deposit:   types.FormatAmount(total),
	})
}

func (s *Server) handleListDelegates(w http.ResponseWriter, r *http.Request) {
	id, ok := pactID(w, r)
	if !ok {
		return
	}
	recs, err := s.pacts.Delegations(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegates": toDelegationResponse(recs)})
}

// mutate runs one pact operation for the authenticated caller and writes
// the resulting pact.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, body any, op func(id types.Hash, caller types.Address) (pact.Pact, error)) {
	id, ok := pactID(w, r)
	if !ok {
		return
	}
	caller, _ := callerFrom(r.Context())
	if body != nil && !decodeOptionalJSON(w, r, body) {
		return
	}
	p, err := op(id, caller)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPactResponse(p))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidSignature
		}
		funds, err := req.Funds.funds()
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidTerms
		}
		return s.pacts.Sign(r.Context(), pact.SignRequest{
			PactID:    id,
			Signer:    caller,
			Signature: sig,
			Timestamp: req.Timestamp,
			Funds:     funds,
		})
	})
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, nil, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.Retract(r.Context(), id, caller)
	})
}

func (s *Server) handleStartOrPause(resume bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mutate(w, r, nil, func(id types.Hash, caller types.Address) (pact.Pact, error) {
			return s.pacts.StartOrPause(r.Context(), id, caller, resume)
		})
	}
}

func (s *Server) handleApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		funds, err := req.Funds.funds()
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidTerms
		}
		return s.pacts.ApprovePayment(r.Context(), pact.PaymentRequest{PactID: id, Caller: caller, Funds: funds})
	})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, nil, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.Terminate(r.Context(), id, caller)
	})
}

func (s *Server) handleFullAndFinal(w http.ResponseWriter, r *http.Request) {
	var req fnfRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		extra, err := optionalAmount(req.Extra)
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidTerms
		}
		funds, err := req.Funds.funds()
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidTerms
		}
		return s.pacts.FullAndFinal(r.Context(), pact.SettlementRequest{PactID: id, Caller: caller, Extra: extra, Funds: funds})
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		amount, err := optionalAmount(req.Amount)
		if err != nil {
			return pact.Pact{}, pact.ErrInvalidTerms
		}
		return s.pacts.Dispute(r.Context(), id, caller, amount)
	})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.Delegate(r.Context(), pact.DelegateRequest{
			PactID:     id,
			Caller:     caller,
			Delegates:  req.Delegates,
			Authorized: req.Authorized,
		})
	})
}

func (s *Server) handleProposeArbitrators(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.ProposeArbitrators(r.Context(), id, caller, req.Arbitrators)
	})
}

func (s *Server) handleRespondArbitrators(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.RespondArbitrators(r.Context(), id, caller, req.Accept)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, nil, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.ArbitratorResolve(r.Context(), id, caller)
	})
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	s.mutate(w, r, &req, func(id types.Hash, caller types.Address) (pact.Pact, error) {
		return s.pacts.ReclaimStake(r.Context(), id, caller, req.Recipient)
	})
}
