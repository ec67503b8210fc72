package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/service/idempotency"
)

// checkoutCart оформляет корзину. С заголовком Idempotency-Key повтор того же
// запроса получает сохранённый ответ, а 5xx и временные ошибки освобождают ключ.
func (h *Handler) checkoutCart(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !domain.CanPerform(p, domain.ActionCheckout, domain.CartResource(p.ID)) {
		h.respondError(w, r, domain.ErrForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondMessage(w, http.StatusBadRequest, errInvalidJSON.Error())
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || h.guard == nil {
		status, resp := h.runCheckout(r, p, body)
		respondJSON(w, status, resp)
		return
	}

	record, replay, err := h.guard.Acquire(r.Context(), key, idempotency.HashRequest([]byte(p.ID), body))
	if err != nil {
		if domain.IsIdempotencyConflict(err) {
			respondMessage(w, http.StatusConflict, err.Error())
			return
		}
		h.respondError(w, r, err)
		return
	}
	if replay {
		w.Header().Set(HeaderReplayed, "true")
		writeRaw(w, record.HTTPStatus, record.ResponseBody)
		return
	}

	status, resp := h.runCheckout(r, p, body)
	data, err := json.Marshal(resp)
	if err != nil {
		status, data = http.StatusInternalServerError, []byte(`{"message":"Internal server error"}`)
	}

	// ответ фиксируется даже при отменённом запросе
	ctx := context.WithoutCancel(r.Context())
	entry := h.logger.WithFields(log.Fields{"idempotency_key": key, "user_id": p.ID})
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		if err := h.guard.Release(ctx, key); err != nil {
			entry.WithError(err).Warn("failed to release idempotency key")
		}
	} else if err := h.guard.Complete(ctx, key, status, data); err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}
	writeRaw(w, status, data)
}

func (h *Handler) runCheckout(r *http.Request, p domain.Principal, body []byte) (int, any) {
	var req checkoutRequest
	if err := unmarshalBody(body, &req); err != nil {
		return http.StatusBadRequest, messageResponse{Message: err.Error()}
	}
	order, err := h.checkout.Checkout(r.Context(), p.ID, req.DeliveryAddress)
	if err != nil {
		status, resp := errorResponse(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("user_id", p.ID).Error("checkout request failed")
		}
		return status, resp
	}
	return http.StatusCreated, orderResponse{Message: "Order created", Order: toOrderDTO(order)}
}
