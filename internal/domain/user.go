package domain

import "time"

// Role: роль пользователя, выданная сервисом идентификации.
type Role string

const (
	RoleUser        Role = "user"
	RoleAdmin       Role = "admin"
	RoleDeliveryman Role = "deliveryman"
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleDeliveryman:
		return true
	default:
		return false
	}
}

// UserStatus: статус учётной записи.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusBanned   UserStatus = "banned"
	UserStatusPending  UserStatus = "pending"
	UserStatusRejected UserStatus = "rejected"
)

// Principal: аутентифицированный субъект запроса. Сервис доверяет ему без перепроверки.
type Principal struct {
	ID     string
	Role   Role
	Status UserStatus
}

// Active сообщает, что учётная запись принципала активна.
func (p Principal) Active() bool {
	return p.Status == UserStatusActive
}

// User: локальная запись пользователя; для курьеров хранит признак занятости.
type User struct {
	ID        string
	Name      string
	Role      Role
	Status    UserStatus
	Available bool
	CreatedAt time.Time
}

// IsAvailableCourier сообщает, может ли пользователь быть зарезервирован как курьер.
func (u User) IsAvailableCourier() bool {
	return u.Role == RoleDeliveryman && u.Available && u.Status == UserStatusActive
}
