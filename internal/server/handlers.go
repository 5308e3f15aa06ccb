package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"commodrails/internal/chain"
	"commodrails/internal/escrow"
	"commodrails/internal/host"
)

const defaultEventPage = 100

type contractResponse struct {
	ID            uint64  `json:"id"`
	Seller        string  `json:"seller"`
	Buyer         *string `json:"buyer"`
	Price         string  `json:"price"`
	Total         string  `json:"total"`
	Quantity      uint64  `json:"quantity"`
	FinalityBlock uint64  `json:"finalityBlock"`
	Finalized     bool    `json:"finalized"`
	Status        string  `json:"status"`
}

func toContractResponse(c escrow.Contract) contractResponse {
	resp := contractResponse{
		ID:            uint64(c.ID),
		Seller:        c.Seller.Hex(),
		Price:         c.Price.Dec(),
		Total:         c.Total.Dec(),
		Quantity:      uint64(c.Quantity),
		FinalityBlock: uint64(c.FinalityBlock),
		Finalized:     c.Finalized,
		Status:        string(c.Status()),
	}
	if c.Buyer != nil {
		buyer := c.Buyer.Hex()
		resp.Buyer = &buyer
	}
	return resp
}

type createContractRequest struct {
	Price         string `json:"price"`
	Total         string `json:"total"`
	Quantity      uint64 `json:"quantity"`
	FinalityBlock uint64 `json:"finalityBlock"`
}

type transferRequest struct {
	Owner  string `json:"owner,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approvalRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type advanceRequest struct {
	Blocks uint64 `json:"blocks"`
}

func decodeBody(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseAmountField(name, raw string) (escrow.Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return escrow.Amount{}, fmt.Errorf("%s is required", name)
	}
	v, err := escrow.ParseAmount(raw)
	if err != nil {
		return escrow.Amount{}, fmt.Errorf("%s must be a base-10 integer below 2^256", name)
	}
	return v, nil
}

func parseAddressField(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", name)
	}
	return common.HexToAddress(raw), nil
}

func parseContractID(r *http.Request) (escrow.ContractID, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("contract id must be a non-negative integer")
	}
	return escrow.ContractID(id), nil
}

func badRequest(err error) (int, any) {
	return http.StatusBadRequest, problem{Error: "InvalidRequest", Message: err.Error()}
}

func (s *Server) createContract(r *http.Request, caller common.Address, body []byte) (int, any) {
	var req createContractRequest
	if err := decodeBody(body, &req); err != nil {
		return badRequest(err)
	}
	price, err := parseAmountField("price", req.Price)
	if err != nil {
		return badRequest(err)
	}
	total, err := parseAmountField("total", req.Total)
	if err != nil {
		return badRequest(err)
	}

	id, err := s.host.CreateContract(r.Context(), caller, host.CreateRequest{
		Price:         price,
		Total:         total,
		Quantity:      escrow.Quantity(req.Quantity),
		FinalityBlock: escrow.BlockIndex(req.FinalityBlock),
	})
	return s.outcome("create_contract", caller, err, http.StatusCreated, map[string]any{
		"id":     uint64(id),
		"status": escrow.StatusListed,
	})
}

func (s *Server) buyContract(r *http.Request, caller common.Address, _ []byte) (int, any) {
	id, err := parseContractID(r)
	if err != nil {
		return badRequest(err)
	}
	err = s.host.BuyContract(r.Context(), caller, id)
	return s.outcome("buy_contract", caller, err, http.StatusOK, map[string]any{
		"id":     uint64(id),
		"status": escrow.StatusBought,
	})
}

func (s *Server) finalizeContract(r *http.Request, caller common.Address, _ []byte) (int, any) {
	id, err := parseContractID(r)
	if err != nil {
		return badRequest(err)
	}
	err = s.host.FinalizeContract(r.Context(), caller, id)
	return s.outcome("finalize_contract", caller, err, http.StatusOK, map[string]any{
		"id":     uint64(id),
		"status": escrow.StatusFinalized,
	})
}

func (s *Server) transfer(r *http.Request, caller common.Address, body []byte) (int, any) {
	var req transferRequest
	if err := decodeBody(body, &req); err != nil {
		return badRequest(err)
	}
	to, err := parseAddressField("to", req.To)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return badRequest(err)
	}
	err = s.host.Transfer(r.Context(), caller, to, amount)
	return s.outcome("transfer", caller, err, http.StatusOK, map[string]any{
		"from":   caller.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
}

func (s *Server) transferFrom(r *http.Request, caller common.Address, body []byte) (int, any) {
	var req transferRequest
	if err := decodeBody(body, &req); err != nil {
		return badRequest(err)
	}
	owner, err := parseAddressField("owner", req.Owner)
	if err != nil {
		return badRequest(err)
	}
	to, err := parseAddressField("to", req.To)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return badRequest(err)
	}
	err = s.host.TransferFrom(r.Context(), caller, owner, to, amount)
	return s.outcome("transfer_from", caller, err, http.StatusOK, map[string]any{
		"spender": caller.Hex(),
		"from":    owner.Hex(),
		"to":      to.Hex(),
		"amount":  amount.Dec(),
	})
}

func (s *Server) approve(r *http.Request, caller common.Address, body []byte) (int, any) {
	var req approvalRequest
	if err := decodeBody(body, &req); err != nil {
		return badRequest(err)
	}
	spender, err := parseAddressField("spender", req.Spender)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmountField("amount", req.Amount)
	if err != nil {
		return badRequest(err)
	}
	err = s.host.Approve(r.Context(), caller, spender, amount)
	return s.outcome("approve", caller, err, http.StatusOK, map[string]any{
		"owner":     caller.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.Dec(),
	})
}

// advanceBlocks moves a manual clock forward. It is unavailable when
// heights come from an RPC node.
func (s *Server) advanceBlocks(r *http.Request, _ common.Address, body []byte) (int, any) {
	adv, ok := s.host.Blocks().(chain.Advancer)
	if !ok {
		return http.StatusNotFound, problem{Error: "ManualClockDisabled", Message: "block height follows the chain RPC node"}
	}
	var req advanceRequest
	if err := decodeBody(body, &req); err != nil {
		return badRequest(err)
	}
	if req.Blocks == 0 {
		return badRequest(fmt.Errorf("blocks must be positive"))
	}
	block, err := adv.Advance(req.Blocks)
	if err != nil {
		return badRequest(err)
	}
	s.logger.Info("manual clock advanced", zap.Uint64("block", block))
	return http.StatusOK, map[string]uint64{"block": block}
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := parseContractID(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	c, err := s.host.Contract(id)
	if err != nil {
		status, code := statusFor(err)
		writeProblem(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(c))
}

func (s *Server) handleContractCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"count": s.host.ContractCount()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddressField("address", chi.URLParam(r, "address"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	bal := s.host.BalanceOf(account)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": bal.Dec(),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddressField("owner", chi.URLParam(r, "owner"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	spender, err := parseAddressField("spender", chi.URLParam(r, "spender"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	allowance := s.host.Allowance(owner, spender)
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": allowance.Dec(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	supply := s.host.Supply()
	writeJSON(w, http.StatusOK, map[string]string{
		"totalSupply":      supply.TotalSupply.Dec(),
		"custodian":        supply.Custodian.Hex(),
		"custodianBalance": supply.CustodianBalance.Dec(),
	})
}

func (s *Server) handleCurrentBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.host.CurrentBlock(r.Context())
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"block": uint64(block)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "InvalidRequest", "after must be a non-negative integer")
			return
		}
		after = v
	}
	limit := defaultEventPage
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeProblem(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		limit = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.feed.Since(after, limit),
		"last":   s.feed.Last(),
	})
}
