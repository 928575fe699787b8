package http

import (
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	applog "bilancio/internal/log"
)

type allocationRequest struct {
	TransactionID int64  `json:"transaction_id"`
	BudgetItemID  int64  `json:"budget_item_id"`
	Amount        string `json:"amount"`
	Note          string `json:"note"`
}

type allocationResponse struct {
	ID            int64  `json:"id"`
	TransactionID int64  `json:"transaction_id"`
	BudgetItemID  int64  `json:"budget_item_id"`
	Amount        string `json:"amount"`
	Note          string `json:"note,omitempty"`
}

func toAllocationResponse(a core.Allocation) allocationResponse {
	return allocationResponse{
		ID:            a.ID,
		TransactionID: a.TransactionID,
		BudgetItemID:  a.BudgetItemID,
		Amount:        a.Amount.String(),
		Note:          a.Note,
	}
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	allocation, err := s.ledger.Allocate(r.Context(), req.TransactionID, req.BudgetItemID, amount, req.Note)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to create allocation",
			applog.FieldOperation, applog.OpAllocate,
			applog.FieldTransactionID, req.TransactionID,
			applog.FieldBudgetItemID, req.BudgetItemID,
			applog.FieldError, err)
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAllocationResponse(allocation))
}

func (s *Server) handleDeleteAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.Release(r.Context(), id); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to delete allocation",
			applog.FieldOperation, applog.OpRelease,
			applog.FieldAllocationID, id,
			applog.FieldError, err)
		respondLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type splitRequest struct {
	Splits []struct {
		BudgetItemID int64  `json:"budget_item_id"`
		Amount       string `json:"amount"`
		Note         string `json:"note"`
	} `json:"splits"`
}

func (s *Server) handleSplitTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	splits := make([]ledger.Split, 0, len(req.Splits))
	for _, sp := range req.Splits {
		amount, err := parseAmount(sp.Amount)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		splits = append(splits, ledger.Split{
			BudgetItemID: sp.BudgetItemID,
			Amount:       amount,
			Note:         sp.Note,
		})
	}

	allocations, err := s.ledger.AllocateOneToMany(r.Context(), transactionID, splits)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to split transaction",
			applog.FieldOperation, applog.OpAllocate,
			applog.FieldTransactionID, transactionID,
			"splits", len(splits),
			applog.FieldError, err)
		respondLedgerError(w, err)
		return
	}

	out := make([]allocationResponse, len(allocations))
	for i, a := range allocations {
		out[i] = toAllocationResponse(a)
	}
	respondJSON(w, http.StatusCreated, out)
}

type batchAllocateRequest struct {
	TransactionIDs []int64 `json:"transaction_ids"`
	Note           string  `json:"note"`
}

func (s *Server) handleBatchAllocate(w http.ResponseWriter, r *http.Request) {
	budgetItemID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req batchAllocateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	allocations, err := s.ledger.AllocateManyToOne(r.Context(), req.TransactionIDs, budgetItemID, req.Note)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to batch allocate",
			applog.FieldOperation, applog.OpAllocate,
			applog.FieldBudgetItemID, budgetItemID,
			"transactions", len(req.TransactionIDs),
			applog.FieldError, err)
		respondLedgerError(w, err)
		return
	}

	out := make([]allocationResponse, len(allocations))
	for i, a := range allocations {
		out[i] = toAllocationResponse(a)
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	transactionID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	outstanding, err := s.ledger.Outstanding(r.Context(), transactionID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"outstanding": outstanding.String()})
}

func (s *Server) handleCanDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.ledger.CanDeleteTransaction(r.Context(), transactionID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"can_delete": ok})
}

func (s *Server) handleCanDeleteBudgetItem(w http.ResponseWriter, r *http.Request) {
	budgetItemID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.ledger.CanDeleteBudgetItem(r.Context(), budgetItemID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"can_delete": ok})
}

type cloneRequest struct {
	Name                string `json:"name"`
	CopyActualToPlanned bool   `json:"copy_actual_to_planned"`
	TransferBalance     bool   `json:"transfer_balance"`
	TargetItemID        int64  `json:"target_item_id"`
}

type cloneResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	CopyBudgetID int64  `json:"copy_budget_id"`
}

func (s *Server) handleCloneBudget(w http.ResponseWriter, r *http.Request) {
	budgetID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cloneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	clone, err := s.ledger.CloneBudget(r.Context(), budgetID, req.Name, ledger.CloneOptions{
		CopyActualToPlanned: req.CopyActualToPlanned,
		TransferBalance:     req.TransferBalance,
		TargetItemID:        req.TargetItemID,
	})
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to clone budget",
			applog.FieldOperation, applog.OpClone,
			applog.FieldBudgetID, budgetID,
			applog.FieldError, err)
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cloneResponse{
		ID:           clone.ID,
		Name:         clone.Name,
		Kind:         string(clone.Kind),
		CopyBudgetID: clone.CopyBudgetID,
	})
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	budgetID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.reports.BudgetReport(r.Context(), budgetID)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to build report",
			applog.FieldOperation, applog.OpRecompute,
			applog.FieldBudgetID, budgetID,
			applog.FieldError, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}
