package webhook

import (
	"net/http"
	"strconv"
	"time"

	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// expenseResponse is the flat expense contract consumed by the UI and agent
// layers.
type expenseResponse struct {
	ID                int    `json:"id"`
	EstablishmentName string `json:"establishment_name"`
	Amount            string `json:"amount"`
	Date              string `json:"date"`
	Category          string `json:"category"`
	Subcategory       string `json:"subcategory"`
	Source            string `json:"source"`
	IsFixedCost       bool   `json:"is_fixed_cost"`
}

// connectionResponse is the connection/account summary contract.
type connectionResponse struct {
	ID              int               `json:"id"`
	Provider        string            `json:"provider"`
	InstitutionName string            `json:"institutionName"`
	Status          string            `json:"status"`
	LastSyncAt      *time.Time        `json:"lastSyncAt"`
	LastError       string            `json:"lastError,omitempty"`
	Accounts        []accountResponse `json:"accounts"`
}

type accountResponse struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Category   string     `json:"category"`
	Balance    string     `json:"balance"`
	Currency   string     `json:"currency"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	expenses, err := s.expenses.ListByUser(r.Context(), userID, limit)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to list expenses")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, exp := range expenses {
		out = append(out, expenseResponse{
			ID:                exp.ID,
			EstablishmentName: exp.EstablishmentName,
			Amount:            exp.Amount.StringFixed(2),
			Date:              exp.Date.Format("2006-01-02"),
			Category:          exp.Category,
			Subcategory:       exp.Subcategory,
			Source:            exp.Source,
			IsFixedCost:       exp.IsFixedCost,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.connections.ListActive(r.Context())
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to list connections")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		accounts, err := s.accounts.ListByConnection(r.Context(), conn.ID)
		if err != nil {
			logger.Log.Error().Err(err).Msg("failed to list accounts")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := connectionResponse{
			ID:              conn.ID,
			Provider:        string(conn.Provider),
			InstitutionName: conn.InstitutionName,
			Status:          string(conn.Status),
			LastSyncAt:      conn.LastSyncAt,
			Accounts:        make([]accountResponse, 0, len(accounts)),
		}
		// Surface the error message only when the status is an error state;
		// stale errors from recovered connections stay hidden.
		if conn.Status == models.ConnectionStatusLoginError {
			resp.LastError = conn.LastError
		}
		for _, acc := range accounts {
			resp.Accounts = append(resp.Accounts, accountResponse{
				ID:         acc.ID,
				Name:       acc.Name,
				Kind:       acc.Kind,
				Category:   acc.Category,
				Balance:    acc.Balance.StringFixed(2),
				Currency:   acc.Currency,
				LastSyncAt: acc.LastSyncAt,
			})
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
