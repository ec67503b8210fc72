package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error) {
		return h.orders.List(ctx, p, limit)
	})
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListAll)
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	h.list(w, r, func(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error) {
		return h.orders.ListByUser(ctx, p, userID, limit)
	})
}

func (h *Handler) list(
	w http.ResponseWriter,
	r *http.Request,
	fetch func(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error),
) {
	limit, err := parseLimit(r)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := fetch(r.Context(), principalFrom(r.Context()), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ordersResponse{Orders: toOrderDTOs(orders)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderResponse{Order: toOrderDTO(order)})
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.orders.Status(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{OrderID: id, Status: string(status)})
}

func (h *Handler) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.orders.Timeline(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]timelineEventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventDTO{Type: e.Type, Reason: e.Reason, ActorID: e.ActorID, Occurred: e.Occurred})
	}
	respondJSON(w, http.StatusOK, timelineResponse{OrderID: id, Events: out})
}

func (h *Handler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Order accepted", h.orders.Accept)
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Order rejected", h.orders.Reject)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Order cancelled", h.orders.Cancel)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	h.transition(w, r, "Order status updated", func(ctx context.Context, p domain.Principal, id string) (domain.Order, error) {
		return h.orders.UpdateStatus(ctx, p, id, req.Status)
	})
}

func (h *Handler) assignCourier(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	h.transition(w, r, "Delivery person assigned", func(ctx context.Context, p domain.Principal, id string) (domain.Order, error) {
		return h.orders.AssignDeliveryPerson(ctx, p, id, req.DeliveryPersonID)
	})
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	apply func(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error),
) {
	order, err := apply(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderResponse{Message: message, Order: toOrderDTO(order)})
}
