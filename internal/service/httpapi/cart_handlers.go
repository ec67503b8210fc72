package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	h.changeLine(w, r, "Product Added to cart successfully", h.carts.AddLine)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	h.changeLine(w, r, "Cart item updated successfully", h.carts.SetLineQuantity)
}

func (h *Handler) changeLine(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	change func(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error),
) {
	p := principalFrom(r.Context())
	if !domain.CanPerform(p, domain.ActionManageCart, domain.CartResource(p.ID)) {
		h.respondError(w, r, domain.ErrForbidden)
		return
	}
	var req lineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	cart, err := change(r.Context(), p.ID, req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Message: message, Cart: toCartDTO(cart)})
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !domain.CanPerform(p, domain.ActionManageCart, domain.CartResource(p.ID)) {
		h.respondError(w, r, domain.ErrForbidden)
		return
	}
	var req lineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	cart, err := h.carts.RemoveLine(r.Context(), p.ID, req.ProductID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Message: "Product removed from the cart successfully", Cart: toCartDTO(cart)})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !domain.CanPerform(p, domain.ActionManageCart, domain.CartResource(p.ID)) {
		h.respondError(w, r, domain.ErrForbidden)
		return
	}
	if err := h.carts.Clear(r.Context(), p.ID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "Cart cleared successfully")
}

func (h *Handler) readCart(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	userID := chi.URLParam(r, "userId")
	if !domain.CanPerform(p, domain.ActionViewCart, domain.CartResource(userID)) {
		h.respondError(w, r, domain.ErrForbidden)
		return
	}
	cart, err := h.carts.Read(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse{Cart: toCartDTO(cart)})
}
