package entity

import (
	"strings"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
)

// Customer represents a registry entry for data transfer between layers.
type Customer struct {
	Number     string    `json:"number"`
	Name       string    `json:"name"`
	PostalCode string    `json:"postal_code,omitempty"`
	City       string    `json:"city,omitempty"`
	Street     string    `json:"street,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsVirtual reports whether the number was allocated by the registry.
func (c Customer) IsVirtual() bool {
	return IsVirtualNumber(c.Number)
}

// IsVirtualNumber reports whether n lives in the virtual namespace.
func IsVirtualNumber(n string) bool {
	return strings.HasPrefix(n, constants.VirtualCustomerPrefix)
}

// CustomerFields carries the fields of an upsert. Absent fields leave stored values untouched.
type CustomerFields struct {
	Name       Opt[string]
	PostalCode Opt[string]
	City       Opt[string]
	Street     Opt[string]
	Phone      Opt[string]
}

// Merge applies present fields onto c (last write wins per field).
func (f CustomerFields) Merge(c Customer) Customer {
	if v, ok := f.Name.Get(); ok {
		c.Name = v
	}
	if v, ok := f.PostalCode.Get(); ok {
		c.PostalCode = v
	}
	if v, ok := f.City.Get(); ok {
		c.City = v
	}
	if v, ok := f.Street.Get(); ok {
		c.Street = v
	}
	if v, ok := f.Phone.Get(); ok {
		c.Phone = v
	}
	return c
}

// FieldsOf returns upsert fields carrying every non-empty value of c.
func FieldsOf(c Customer) CustomerFields {
	var f CustomerFields
	for _, p := range []struct {
		dst *Opt[string]
		v   string
	}{{&f.Name, c.Name}, {&f.PostalCode, c.PostalCode}, {&f.City, c.City}, {&f.Street, c.Street}, {&f.Phone, c.Phone}} {
		if p.v != "" {
			*p.dst = Some(p.v)
		}
	}
	return f
}

// VehicleRecord binds a vehicle identifier to a customer.
type VehicleRecord struct {
	VehicleID         string    `json:"vehicle_id"`
	Plate             string    `json:"plate,omitempty"`
	CustomerNumber    string    `json:"customer_number"`
	Make              string    `json:"make,omitempty"`
	Model             string    `json:"model,omitempty"`
	FirstRegistration string    `json:"first_registration,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
