package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wallet-sync/internal/aggregate"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// handleSnapshot handles GET /v1/snapshot - the whole store at one revision
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	resp := map[string]interface{}{
		"revision": st.Revision(),
		"accounts": st.Accounts(),
	}
	if id, ok := st.SelectedAccount(); ok {
		resp["selected"] = id
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	resp := map[string]interface{}{
		"revision": st.Revision(),
		"networks": st.Networks(),
	}
	if key, ok := st.ActiveNetwork(); ok {
		resp["active"] = key
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"revision": st.Revision(),
		"assets":   st.Assets(),
	})
}

// handleListTransactions handles GET /v1/transactions?account=&status=
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var account *models.AccountID
	if raw := q.Get("account"); raw != "" {
		id, err := parseAccountID(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		account = &id
	}
	status := types.TransactionStatus(strings.ToLower(q.Get("status")))
	if status != "" && !status.IsValid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, fmt.Sprintf("unknown status %q", status), nil)
		return
	}

	st := s.store.Snapshot()
	txs := make([]models.Transaction, 0)
	for _, tx := range st.Transactions() {
		if account != nil && tx.From != *account {
			continue
		}
		if status != "" && tx.Status != status {
			continue
		}
		txs = append(txs, tx)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"revision":     st.Revision(),
		"transactions": txs,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, ok := s.store.Snapshot().Transaction(id)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "transaction not found: "+id, nil)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// handleBalances handles GET /v1/balances?account=&chainId=&coin=
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	accounts, filter, err := parseSelection(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	st := s.store.Snapshot()
	if len(accounts) == 0 {
		for _, acc := range st.Accounts() {
			accounts = append(accounts, acc.ID)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"revision": st.Revision(),
		"filter":   filter,
		"totals":   aggregate.AggregateBalances(st, accounts, st.Assets(), filter),
	})
}

// PortfolioResponse is the body of GET /v1/portfolio
type PortfolioResponse struct {
	Revision uint64 `json:"revision"`
	aggregate.View
}

// handlePortfolio handles GET /v1/portfolio?account=&chainId=&coin=&currency=&includeHidden=
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	accounts, filter, err := parseSelection(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	q := r.URL.Query()
	currency := strings.ToUpper(q.Get("currency"))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	includeHidden := false
	if raw := q.Get("includeHidden"); raw != "" {
		includeHidden, err = strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "includeHidden must be a boolean", nil)
			return
		}
	}

	st := s.store.Snapshot()
	view := aggregate.Portfolio(st, aggregate.Query{
		Accounts:      accounts,
		Filter:        filter,
		Currency:      currency,
		IncludeHidden: includeHidden,
	})
	respondJSON(w, http.StatusOK, PortfolioResponse{Revision: st.Revision(), View: view})
}

// parseSelection reads repeated account params and the network filter.
// Without chainId the filter selects every non-test network.
func parseSelection(r *http.Request) ([]models.AccountID, aggregate.NetworkFilter, error) {
	q := r.URL.Query()
	var accounts []models.AccountID
	for _, raw := range q["account"] {
		id, err := parseAccountID(raw)
		if err != nil {
			return nil, aggregate.NetworkFilter{}, err
		}
		accounts = append(accounts, id)
	}

	filter := aggregate.AllNetworks
	if chain := q.Get("chainId"); chain != "" && types.ChainID(chain) != types.ChainAll {
		filter = aggregate.NetworkFilter{ChainID: types.NormalizeChainID(chain), Coin: types.CoinETH}
	}
	if raw := q.Get("coin"); raw != "" {
		coin, err := strconv.Atoi(raw)
		if err != nil || !types.CoinType(coin).IsKnown() {
			return nil, aggregate.NetworkFilter{}, fmt.Errorf("unknown coin %q", raw)
		}
		filter.Coin = types.CoinType(coin)
	}
	return accounts, filter, nil
}

// parseAccountID parses the <coin>:<keyring>:<address> form AccountID.String produces
func parseAccountID(raw string) (models.AccountID, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return models.AccountID{}, fmt.Errorf("account %q: want <coin>:<keyring>:<address>", raw)
	}
	coin, err := strconv.Atoi(parts[0])
	if err != nil || !types.CoinType(coin).IsKnown() {
		return models.AccountID{}, fmt.Errorf("account %q: unknown coin", raw)
	}
	return models.AccountID{
		Address:   parts[2],
		Coin:      types.CoinType(coin),
		KeyringID: parts[1],
	}.Normalized(), nil
}
