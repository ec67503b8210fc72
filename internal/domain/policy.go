package domain

// Action: действие, на которое проверяются права принципала.
type Action string

const (
	ActionManageCart           Action = "cart.manage"
	ActionViewCart             Action = "cart.view"
	ActionCheckout             Action = "cart.checkout"
	ActionViewOrder            Action = "order.view"
	ActionListAllOrders        Action = "order.list_all"
	ActionAcceptOrder          Action = "order.accept"
	ActionRejectOrder          Action = "order.reject"
	ActionCancelOrder          Action = "order.cancel"
	ActionUpdateDeliveryStatus Action = "order.update_status"
	ActionAssignCourier        Action = "order.assign_courier"
)

// Resource: минимальный срез защищаемого ресурса, нужный политике.
type Resource struct {
	OwnerID          string
	DeliveryPersonID string
}

// CartResource описывает корзину пользователя.
func CartResource(userID string) Resource {
	return Resource{OwnerID: userID}
}

// OrderResource описывает заказ.
func OrderResource(o Order) Resource {
	return Resource{OwnerID: o.UserID, DeliveryPersonID: o.DeliveryPersonID}
}

// CanPerform: единая политика авторизации. Неактивные учётные записи не могут ничего.
func CanPerform(p Principal, action Action, res Resource) bool {
	if p.ID == "" || !p.Active() || !p.Role.Valid() {
		return false
	}
	isAdmin := p.Role == RoleAdmin
	isOwner := res.OwnerID != "" && p.ID == res.OwnerID
	isAssigned := p.Role == RoleDeliveryman && res.DeliveryPersonID != "" && p.ID == res.DeliveryPersonID

	switch action {
	case ActionManageCart, ActionCheckout, ActionCancelOrder:
		return isOwner
	case ActionViewCart:
		return isOwner || isAdmin
	case ActionViewOrder:
		return isOwner || isAdmin || isAssigned
	case ActionUpdateDeliveryStatus:
		return isAdmin || isAssigned
	case ActionListAllOrders, ActionAcceptOrder, ActionRejectOrder, ActionAssignCourier:
		return isAdmin
	default:
		return false
	}
}
