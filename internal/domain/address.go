package domain

import (
	"fmt"
	"strings"
)

// Address: снимок адреса доставки, встраиваемый в заказ.
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// ValidateAddress проверяет, что адрес передан и все поля заполнены.
func ValidateAddress(a *Address) error {
	if a == nil {
		return ErrAddressRequired
	}
	fields := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"phone", a.Phone},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrAddressInvalid, f.name)
		}
	}
	return nil
}
