package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bilancio/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondLedgerError maps missing entities to 404, domain validation
// failures to 422 and everything else to 500.
func respondLedgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	for _, sentinel := range []error{
		core.ErrZeroAllocation,
		core.ErrSignMismatch,
		core.ErrOverAllocation,
		core.ErrMixedSigns,
		core.ErrEmptyBatch,
		core.ErrNoTransferTarget,
		core.ErrEmptyName,
		core.ErrInvalidKind,
	} {
		if errors.Is(err, sentinel) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// parseAmount accepts a decimal string ("-12,34" or "-12.34").
func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
