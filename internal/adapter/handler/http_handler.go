package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/core/service"
)

// HTTPHandler is a thin facade over the ledger service: it wraps the
// exposed contract unchanged and maps the error taxonomy to status codes.
type HTTPHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

type MutationRequest struct {
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Initiator     string          `json:"initiator"`
	Description   string          `json:"description"`
}

type TransferRequest struct {
	FromOwnerID   string          `json:"from_owner_id"`
	ToOwnerID     string          `json:"to_owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Initiator     string          `json:"initiator"`
	Description   string          `json:"description"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(ledger *service.LedgerService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{ledger: ledger, logger: logger}
}

// Register wires all routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/credit", h.mutation(domain.EntryTypeCredit))
	mux.HandleFunc("/api/debit", h.mutation(domain.EntryTypeDebit))
	mux.HandleFunc("/api/reserve", h.mutation(domain.EntryTypeReserve))
	mux.HandleFunc("/api/release", h.mutation(domain.EntryTypeRelease))
	mux.HandleFunc("/api/transfer", h.Transfer)
	mux.HandleFunc("/api/reverse", h.Reverse)
	mux.HandleFunc("/api/freeze", h.Freeze)
	mux.HandleFunc("/api/unfreeze", h.Unfreeze)
	mux.HandleFunc("/api/balance", h.GetBalance)
	mux.HandleFunc("/api/ledger", h.ListLedger)
}

func (h *HTTPHandler) mutation(op domain.EntryType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req MutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
		if req.OwnerID == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "owner_id is required"})
			return
		}

		ref := domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID}
		var entry *domain.LedgerEntry
		var err error

		switch op {
		case domain.EntryTypeCredit:
			entry, err = h.ledger.Credit(r.Context(), req.OwnerID, req.Amount, ref, req.Initiator, req.Description)
		case domain.EntryTypeDebit:
			entry, err = h.ledger.Debit(r.Context(), req.OwnerID, req.Amount, ref, req.Initiator, req.Description)
		case domain.EntryTypeReserve:
			entry, err = h.ledger.Reserve(r.Context(), req.OwnerID, req.Amount, ref, req.Initiator, req.Description)
		case domain.EntryTypeRelease:
			entry, err = h.ledger.Release(r.Context(), req.OwnerID, req.Amount, ref, req.Initiator, req.Description)
		}
		if err != nil {
			h.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, entry)
	}
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.FromOwnerID == "" || req.ToOwnerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "from_owner_id and to_owner_id are required"})
		return
	}

	ref := domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID}
	debit, credit, err := h.ledger.Transfer(r.Context(), req.FromOwnerID, req.ToOwnerID, req.Amount, ref, req.Initiator, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]*domain.LedgerEntry{
		"debit":  debit,
		"credit": credit,
	})
}

func (h *HTTPHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntryID   string `json:"entry_id"`
		Initiator string `json:"initiator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.EntryID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "entry_id is required"})
		return
	}

	entry, err := h.ledger.Reverse(r.Context(), req.EntryID, req.Initiator)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *HTTPHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

func (h *HTTPHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *HTTPHandler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "owner_id is required"})
		return
	}

	var err error
	if frozen {
		err = h.ledger.Freeze(r.Context(), req.OwnerID)
	} else {
		err = h.ledger.Unfreeze(r.Context(), req.OwnerID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"frozen": frozen})
}

func (h *HTTPHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "owner_id is required"})
		return
	}

	snapshot, err := h.ledger.GetBalance(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *HTTPHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	ownerID := q.Get("owner_id")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "owner_id is required"})
		return
	}

	filter := domain.EntryFilter{
		Status:        domain.EntryStatus(q.Get("status")),
		ReferenceType: q.Get("reference_type"),
		ReferenceID:   q.Get("reference_id"),
	}
	if t := q.Get("type"); t != "" {
		filter.Types = []domain.EntryType{domain.EntryType(t)}
	}

	page := domain.Page{}
	if limit := q.Get("limit"); limit != "" {
		page.Limit, _ = strconv.Atoi(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		page.Offset, _ = strconv.Atoi(offset)
	}

	entries, err := h.ledger.ListLedger(r.Context(), ownerID, filter, page)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientReserved),
		errors.Is(err, domain.ErrNotReversible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOwnerFrozen):
		status = http.StatusLocked
	case errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrAlreadyReversed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEntryNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
