package server

import (
	"fmt"
	"net/http"
	"strings"

	"tally/internal/api"
	"tally/internal/models"
	"tally/internal/store"
)

const defaultExpenseListLimit = 100

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req api.ExpenseCreateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	spentOn, err := models.ParseSpentOn(req.SpentOn)
	if err != nil {
		s.writeServiceError(w, r, badRequest(err))
		return
	}
	if req.AmountCents < 0 {
		s.writeServiceError(w, r, badRequest(fmt.Errorf("amount_cents must be >= 0")))
		return
	}

	expense := &models.Expense{
		ProjectID:   strings.TrimSpace(req.ProjectID),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Category:    strings.TrimSpace(req.Category),
		SpentOn:     spentOn,
		CreatorID:   actorID(r),
	}
	if err := s.store.CreateExpense(r.Context(), expense); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ExpenseResponse{Expense: *expense})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	limit, err := queryIntDefault(r, "limit", defaultExpenseListLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	expenses, err := s.store.ListExpenses(r.Context(), r.URL.Query().Get("project_id"), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	out := make([]api.ExpenseResponse, 0, len(expenses))
	for _, expense := range expenses {
		if !s.canAccess(r, expense.ID) {
			continue
		}
		out = append(out, api.ExpenseResponse{Expense: expense})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, id) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("expense not found: %s", id), ErrCodeExpenseNotFound))
		return
	}
	expense, err := s.store.GetExpense(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ExpenseResponse{Expense: *expense})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, id) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("expense not found: %s", id), ErrCodeExpenseNotFound))
		return
	}
	var req api.ExpenseUpdateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	update := store.ExpenseUpdate{
		Name:        req.Name,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Category:    req.Category,
	}
	if req.SpentOn != nil {
		spentOn, err := models.ParseSpentOn(*req.SpentOn)
		if err != nil {
			s.writeServiceError(w, r, badRequest(err))
			return
		}
		update.SpentOn = &spentOn
	}
	expense, err := s.store.UpdateExpense(r.Context(), id, update)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ExpenseResponse{Expense: *expense})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathIDOrBadRequest(w, r, validateExpenseID)
	if !ok {
		return
	}
	if !s.canAccess(r, id) {
		s.writeServiceError(w, r, notFoundCode(fmt.Errorf("expense not found: %s", id), ErrCodeExpenseNotFound))
		return
	}
	result, err := s.attachmentService.DeleteExpense(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleteResponse(id, result))
}
