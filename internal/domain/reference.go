package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// State is a federative unit. Code is the two-letter abbreviation.
type State struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Validate checks the state's own invariants.
func (s *State) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return Validationf("state %d: name is required", s.ID)
	}
	if len(s.Code) != 2 {
		return Validationf("state %d: code must have two letters, got %q", s.ID, s.Code)
	}
	return nil
}

// PaymentMode describes how a distributor bills compensated energy.
type PaymentMode string

const (
	PaymentUnified     PaymentMode = "unified"
	PaymentTwoInvoices PaymentMode = "two_invoices"
)

// ParsePaymentMode accepts the canonical values plus the labels used by
// distributors in their published rules ("Unificado", "Dois Boletos").
func ParsePaymentMode(s string) (PaymentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unified", "unificado":
		return PaymentUnified, nil
	case "two_invoices", "dois boletos", "dois_boletos":
		return PaymentTwoInvoices, nil
	}
	return "", Validationf("unknown payment mode %q", s)
}

// DefaultMinimumICMS is the ICMS percentage assumed when a distributor does not
// publish one.
var DefaultMinimumICMS = decimal.RequireFromString("17.00")

// Distributor is an electric utility operating in one state.
type Distributor struct {
	ID                      int64           `json:"id"`
	Name                    string          `json:"name"`
	StateID                 int64           `json:"stateId"`
	MinimumConsumptionKWh   int64           `json:"minimumConsumptionKwh"`
	PaymentMode             PaymentMode     `json:"paymentMode"`
	InjectionDeadlineDays   int             `json:"injectionDeadlineDays"`
	AllowsOwnershipTransfer bool            `json:"allowsOwnershipTransfer"`
	RequiresCredentials     bool            `json:"requiresCredentials"`
	AcceptsEquipmentPlates  bool            `json:"acceptsEquipmentPlates"`
	MinimumICMSPercent      decimal.Decimal `json:"minimumIcmsPercent"`
	Notes                   string          `json:"notes,omitempty"`
	Active                  bool            `json:"active"`
}

// Validate checks the distributor's own invariants.
func (d *Distributor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return Validationf("distributor %d: name is required", d.ID)
	}
	if d.MinimumConsumptionKWh < 0 {
		return Validationf("distributor %d: minimum consumption must not be negative", d.ID)
	}
	if _, err := ParsePaymentMode(string(d.PaymentMode)); err != nil {
		return err
	}
	if d.InjectionDeadlineDays < 0 {
		return Validationf("distributor %d: injection deadline must not be negative", d.ID)
	}
	return nil
}

// BonusCode identifies a bonus type by a single uppercase letter.
type BonusCode string

// ParseBonusCode normalizes s and checks that it is a single letter A-Z.
func ParseBonusCode(s string) (BonusCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return "", Validationf("bonus code must be a single letter, got %q", s)
	}
	return BonusCode(s), nil
}

// BonusType is a category of discount offer.
type BonusType struct {
	ID          int64     `json:"id"`
	Code        BonusCode `json:"code"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Active      bool      `json:"active"`
}

// Validate checks the bonus type's own invariants.
func (b *BonusType) Validate() error {
	if _, err := ParseBonusCode(string(b.Code)); err != nil {
		return err
	}
	if strings.TrimSpace(b.DisplayName) == "" {
		return Validationf("bonus type %q: display name is required", b.Code)
	}
	return nil
}
