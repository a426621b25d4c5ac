package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/orchestrator"
)

// UnlockRequest is the body of POST /v1/unlock
type UnlockRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := s.commands.Unlock(r.Context(), req.Password); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"locked": false})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Lock(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"locked": true})
}

// handleCreateAccount handles POST /v1/accounts. The command runs in the
// background and the response carries its id; ?wait=true blocks until it
// settles or the request ends.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in orchestrator.CreateAccountInput
	if err := parseJSONBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if !in.Coin.IsKnown() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, fmt.Sprintf("unsupported coin type %d", int(in.Coin)), nil)
		return
	}

	cmd := s.commands.CreateAccount(r.Context(), in)
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		// the command outlives the request; a client disconnect only stops the wait
		_, _ = cmd.Wait(r.Context())
	}

	status := http.StatusAccepted
	if cmd.State().IsTerminal() {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/commands/"+cmd.ID.String())
	respondJSON(w, status, cmd.Info())
}

// CancelCreateAccountRequest is the body of POST /v1/accounts/create/cancel
type CancelCreateAccountRequest struct {
	Previous *models.NetworkKey `json:"previousNetwork,omitempty"`
}

func (s *Server) handleCancelCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CancelCreateAccountRequest
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}
	key, err := s.commands.CancelCreateAccount(r.Context(), req.Previous)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"network": key})
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.commandFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cmd.Info())
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid command id", nil)
		return
	}
	if err := s.commands.Cancel(id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	cmd, _ := s.commands.Command(id)
	respondJSON(w, http.StatusOK, cmd.Info())
}

func (s *Server) commandFromPath(w http.ResponseWriter, r *http.Request) (*orchestrator.Command, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid command id", nil)
		return nil, false
	}
	cmd, ok := s.commands.Command(id)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "command not found: "+raw, nil)
		return nil, false
	}
	return cmd, true
}

// AccountRequest is the body of the account commands
type AccountRequest struct {
	Account models.AccountID `json:"account"`
	Name    string           `json:"name,omitempty"`
}

func (s *Server) parseAccountRequest(w http.ResponseWriter, r *http.Request) (AccountRequest, bool) {
	var req AccountRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return req, false
	}
	if req.Account.IsZero() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "account is required", nil)
		return req, false
	}
	return req, true
}

func (s *Server) handleRenameAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseAccountRequest(w, r)
	if !ok {
		return
	}
	if err := s.commands.RenameAccount(r.Context(), req.Account, req.Name); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"account": req.Account.Normalized(), "name": strings.TrimSpace(req.Name)})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseAccountRequest(w, r)
	if !ok {
		return
	}
	if err := s.commands.RemoveAccount(r.Context(), req.Account); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseAccountRequest(w, r)
	if !ok {
		return
	}
	if err := s.commands.SelectAccount(r.Context(), req.Account); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"selected": req.Account.Normalized()})
}

// handleSwitchNetwork handles PUT /v1/network with a NetworkKey body
func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var key models.NetworkKey
	if err := parseJSONBody(r, &key); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if key.ChainID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chainId is required", nil)
		return
	}
	if err := s.commands.SwitchNetwork(r.Context(), key); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"active": key.Normalized()})
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var asset models.Asset
	if err := parseJSONBody(r, &asset); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := s.commands.AddAsset(r.Context(), asset); err != nil {
		respondServiceError(w, r, err)
		return
	}
	stored, _ := s.store.Snapshot().Asset(asset.ID)
	respondJSON(w, http.StatusCreated, stored)
}

// AssetRequest is the body of the asset removal and visibility commands
type AssetRequest struct {
	Asset   models.AssetID `json:"asset"`
	Visible *bool          `json:"visible,omitempty"`
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := s.commands.RemoveAsset(r.Context(), req.Asset); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssetVisibility(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Visible == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "visible is required", nil)
		return
	}
	if err := s.commands.SetAssetVisibility(r.Context(), req.Asset, *req.Visible); err != nil {
		respondServiceError(w, r, err)
		return
	}
	stored, _ := s.store.Snapshot().Asset(req.Asset)
	respondJSON(w, http.StatusOK, stored)
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var in orchestrator.SubmitTransactionInput
	if err := parseJSONBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	tx, err := s.commands.SubmitTransaction(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// handleTransactionAction handles POST /v1/transactions/{id}/{action}
func (s *Server) handleTransactionAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	ctx := r.Context()

	var (
		tx  models.Transaction
		err error
	)
	status := http.StatusOK
	switch strings.ToLower(vars["action"]) {
	case "approve":
		tx, err = s.commands.ApproveTransaction(ctx, id)
	case "reject":
		tx, err = s.commands.RejectTransaction(ctx, id)
	case "retry":
		tx, err = s.commands.RetryTransaction(ctx, id)
		status = http.StatusCreated
	case "speedup":
		tx, err = s.commands.SpeedUpTransaction(ctx, id)
		status = http.StatusCreated
	case "cancel":
		tx, err = s.commands.CancelTransaction(ctx, id)
		status = http.StatusCreated
	default:
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "unknown transaction action: "+vars["action"], nil)
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, status, tx)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	report, err := s.commands.Discover(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleRefresh handles POST /v1/refresh/{what} where what is networks,
// balances, prices or all
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	what := strings.ToLower(mux.Vars(r)["what"])
	switch what {
	case "networks":
		report, err := s.commands.RefreshNetworks(ctx)
		s.respondReport(w, r, report, err)
	case "balances":
		accounts, _, err := parseSelection(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		report, err := s.commands.RefreshBalances(ctx, accounts)
		s.respondReport(w, r, report, err)
	case "prices":
		report, err := s.commands.RefreshPrices(ctx, strings.ToUpper(r.URL.Query().Get("currency")))
		s.respondReport(w, r, report, err)
	case "all":
		s.handleDiscover(w, r)
	default:
		respondServiceError(w, r, apperrors.NewInvalidParameterError("what", "must be networks, balances, prices or all"))
	}
}

func (s *Server) respondReport(w http.ResponseWriter, r *http.Request, report interface{}, err error) {
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
