// Package types defines the shared domain records exchanged between the
// orchestrator, flow engine, extraction and consolidation packages.
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Vehicle holds the vehicle attributes a quote is requested for.
// CFCode/CHCode may be empty until resolved (automatically via Fasecolda or
// supplied manually by the operator).
type Vehicle struct {
	Plate         string `json:"plate" validate:"required"`
	Brand         string `json:"brand" validate:"required"`
	Reference     string `json:"reference" validate:"required"`
	FullReference string `json:"full_reference,omitempty"`
	ModelYear     string `json:"model_year" validate:"required,len=4,numeric"`
	State         string `json:"state,omitempty"`    // "Nuevo" or "Usado"
	Category      string `json:"category,omitempty"` // e.g. "Liviano pasajeros"
	InsuredValue  int64  `json:"insured_value,omitempty"`
	CFCode        string `json:"cf_code,omitempty"`
	CHCode        string `json:"ch_code,omitempty"`
}

// Client holds the client attributes entered on the insurer forms.
type Client struct {
	DocumentNumber string `json:"document_number" validate:"required"`
	DocumentType   string `json:"document_type,omitempty"`
	FirstName      string `json:"first_name" validate:"required"`
	SecondName     string `json:"second_name,omitempty"`
	FirstLastname  string `json:"first_lastname" validate:"required"`
	SecondLastname string `json:"second_lastname,omitempty"`
	BirthDate      string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Gender         string `json:"gender,omitempty" validate:"omitempty,oneof=M F"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	Occupation     string `json:"occupation,omitempty"`
	Address        string `json:"address,omitempty"`
	City           string `json:"city,omitempty"`
	Department     string `json:"department,omitempty"`
}

// QuoteRequest is the immutable input of one orchestration run: the vehicle
// and client to quote, plus the policy number each insurer expects.
type QuoteRequest struct {
	Vehicle       Vehicle           `json:"vehicle" validate:"required"`
	Client        Client            `json:"client" validate:"required"`
	PolicyNumbers map[string]string `json:"policy_numbers,omitempty"`
}

// PolicyNumber returns the policy number configured for a provider, or empty.
func (r *QuoteRequest) PolicyNumber(providerID string) string {
	return r.PolicyNumbers[providerID]
}

// ClientFullName returns the client name as used in report file names.
func (r *QuoteRequest) ClientFullName() string {
	parts := []string{r.Client.FirstName, r.Client.FirstLastname}
	return strings.TrimSpace(strings.Join(parts, " "))
}

var validate = validator.New()

// Validate checks the request for missing or malformed fields before a run
// starts. The error lists every failing field, not just the first.
func (r *QuoteRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid quote request: %s", strings.Join(fields, ", "))
	}
	return fmt.Errorf("invalid quote request: %w", err)
}
