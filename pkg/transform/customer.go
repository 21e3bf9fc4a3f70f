package transform

import (
	"strings"
	"time"
)

const customerRecord = "customer"

// LegacyAddress is the nested address block of a legacy customer.
type LegacyAddress struct {
	Line1   string `json:"LINE_1"`
	Line2   string `json:"LINE_2"`
	City    string `json:"CITY"`
	State   string `json:"ST_CD"`
	Zip     string `json:"ZIP"`
	Country string `json:"CNTRY_CD"`
}

// LegacyCustomer is a customer as the upstream returns it.
type LegacyCustomer struct {
	ID        string        `json:"CUST_ID"`
	Name      string        `json:"CUST_NM"`
	Email     string        `json:"EMAIL_ADDR"`
	Phone     string        `json:"PHONE_NO"`
	Status    string        `json:"STAT_CD"`
	CreatedOn string        `json:"CRT_DT"`
	Address   LegacyAddress `json:"ADDR"`
}

// Customer is the outward customer schema.
type Customer struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Status     CustomerStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at,omitzero"`
	Street     string         `json:"street,omitempty"`
	City       string         `json:"city,omitempty"`
	Region     string         `json:"region,omitempty"`
	PostalCode string         `json:"postal_code,omitempty"`
	Country    string         `json:"country"`
}

// DefaultCountry is used when a legacy customer has no country code.
const DefaultCountry = "US"

// CustomerFromLegacy transforms a legacy customer. CUST_ID and CUST_NM are required.
func CustomerFromLegacy(in LegacyCustomer) (Customer, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Customer{}, missing(customerRecord, "CUST_ID")
	}
	name := collapseSpace(in.Name)
	if name == "" {
		return Customer{}, missing(customerRecord, "CUST_NM")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != "" && !strings.Contains(email, "@") {
		return Customer{}, invalid(customerRecord, "EMAIL_ADDR", "%q is not an email address", in.Email)
	}

	created, err := parseDate(in.CreatedOn)
	if err != nil {
		return Customer{}, invalid(customerRecord, "CRT_DT", "%v", err)
	}

	country := code(in.Address.Country)
	if country == "" {
		country = DefaultCountry
	}

	return Customer{
		ID:         id,
		Name:       name,
		Email:      email,
		Phone:      strings.TrimSpace(in.Phone),
		Status:     NormalizeCustomerStatus(in.Status),
		CreatedAt:  created,
		Street:     joinNonEmpty(", ", in.Address.Line1, in.Address.Line2),
		City:       collapseSpace(in.Address.City),
		Region:     code(in.Address.State),
		PostalCode: strings.TrimSpace(in.Address.Zip),
		Country:    country,
	}, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = collapseSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
