package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

type lineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type checkoutRequest struct {
	DeliveryAddress *domain.Address `json:"deliveryAddress"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type assignRequest struct {
	DeliveryPersonID string `json:"deliveryPersonId"`
}

type cartLineDTO struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	Price     int64  `json:"price"`
}

type cartDTO struct {
	UserID     string        `json:"userId"`
	Items      []cartLineDTO `json:"items"`
	TotalCount int64         `json:"totalCount"`
	TotalPrice int64         `json:"totalPrice"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func toCartDTO(c domain.Cart) cartDTO {
	items := make([]cartLineDTO, 0, len(c.Lines))
	for _, l := range c.Lines {
		items = append(items, cartLineDTO{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.UnitPrice})
	}
	return cartDTO{
		UserID:     c.UserID,
		Items:      items,
		TotalCount: c.TotalCount,
		TotalPrice: c.TotalPrice,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type orderLineDTO struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type orderDTO struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Items            []orderLineDTO `json:"items"`
	TotalCount       int64          `json:"totalCount"`
	TotalPrice       int64          `json:"totalPrice"`
	DeliveryPersonID string         `json:"deliveryPersonId,omitempty"`
	DeliveryAddress  domain.Address `json:"deliveryAddress"`
	Status           string         `json:"status"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func toOrderDTO(o domain.Order) orderDTO {
	items := make([]orderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, orderLineDTO{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return orderDTO{
		ID:               o.ID,
		UserID:           o.UserID,
		Items:            items,
		TotalCount:       o.TotalCount,
		TotalPrice:       o.TotalPrice,
		DeliveryPersonID: o.DeliveryPersonID,
		DeliveryAddress:  o.DeliveryAddress,
		Status:           string(o.Status),
		Version:          o.Version,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	return out
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	ActorID  string    `json:"actorId,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type cartResponse struct {
	Message string  `json:"message,omitempty"`
	Cart    cartDTO `json:"cart"`
}

type orderResponse struct {
	Message string   `json:"message,omitempty"`
	Order   orderDTO `json:"order"`
}

type ordersResponse struct {
	Orders []orderDTO `json:"orders"`
}

type statusResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type timelineResponse struct {
	OrderID string             `json:"orderId"`
	Events  []timelineEventDTO `json:"events"`
}
