package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohmdloai/flasky/internal/orders"
)

type OrderEngine interface {
	Create(ctx context.Context, name, email string, items []orders.ItemInput) (orders.Order, error)
	AddItem(ctx context.Context, orderID, productID string, qty int) (orders.OrderItem, error)
	Pay(ctx context.Context, orderID string) (orders.Order, error)
	Get(ctx context.Context, orderID string) (orders.Order, error)
	UpdateShipping(ctx context.Context, orderID, status string) (orders.Order, error)
}

type OrdersHandler struct {
	Engine OrderEngine
}

type CreateOrderReq struct {
	Name  string             `json:"name"`
	Email string             `json:"email"`
	Items []orders.ItemInput `json:"items"`
}

type PayOrderResp struct {
	Message          string       `json:"message"`
	PaymentReference string       `json:"payment_reference"`
	Order            orders.Order `json:"order"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/api/orders", h.create)
	r.Get("/api/orders/{id}", h.get)
	r.Post("/api/orders/{id}/items", h.addItem)
	r.Post("/api/orders/{id}/pay", h.pay)
	r.Post("/api/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.Create(ctx, req.Name, req.Email, req.Items)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Engine.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req orders.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	item, err := h.Engine.AddItem(ctx, chi.URLParam(r, "id"), req.ProductID, req.Quantity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *OrdersHandler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.Pay(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PayOrderResp{
		Message:          "Payment successful",
		PaymentReference: *o.PaymentReference,
		Order:            o,
	})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.UpdateShipping(ctx, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
