package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mohmdloai/flasky/internal/catalog"
	"github.com/mohmdloai/flasky/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr translates business-rule violations into structured responses.
// Anything unrecognized is a persistence or internal failure.
func writeErr(w http.ResponseWriter, err error) {
	var stockErr *catalog.InsufficientStockError

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, orders.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, &stockErr),
		errors.Is(err, catalog.ErrInvalidInput),
		errors.Is(err, orders.ErrValidation),
		errors.Is(err, orders.ErrAlreadyPaid),
		errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, orders.ErrInvalidStatus):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
