package http

import (
	"net/http"
	"strconv"
	"strings"

	"budget/internal/core"
	"budget/internal/identity"
)

func currentUser(r *http.Request) (int64, error) {
	userID, ok := identity.UserID(r.Context())
	if !ok {
		return 0, identity.ErrUnauthenticated
	}
	return userID, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := parseTransactionInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.ledger.CreateTransaction(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/transactions/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, newTransactionResponse(t))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.ledger.GetTransaction(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := parseTransactionInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.ledger.EditTransaction(r.Context(), userID, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(t))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteTransaction(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dr, err := parseDateRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.ledger.ListByUser(r.Context(), userID, dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponses(txs))
}

func (s *Server) handleListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accountID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	dr, err := parseDateRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.ledger.ListByAccount(r.Context(), userID, accountID, dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponses(txs))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := s.ledger.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponses(accounts))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	s.listCategories(w, r, r.URL.Query().Get("type"))
}

// handleCategoriesByType serves the option list a form reloads when the
// user switches between income and expense.
func (s *Server) handleCategoriesByType(w http.ResponseWriter, r *http.Request) {
	var req categoriesByTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s.listCategories(w, r, req.Type)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request, rawType string) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := core.ParseMovementType(strings.TrimSpace(rawType))
	if err != nil {
		writeError(w, r, err)
		return
	}
	cats, err := s.ledger.ListCategories(r.Context(), userID, t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCategoryResponses(cats))
}
