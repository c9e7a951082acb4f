package validator

import (
	"fmt"

	"gopkg.in/go-playground/validator.v9"
)

// MaxRawValue is the largest value a 5-digit meter display can show
const MaxRawValue = 99999

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid       bool
	AnomalyReason string
}

// Validator checks inbound readings and request payloads
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// Struct validates s against its `validate` tags
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return fmt.Errorf("validation of the request has failed: %w", err)
	}
	return nil
}

// ValidateReading checks the identifiers and raw display value of a reading
func (v *Validator) ValidateReading(userID, deviceID, rawValue int) ValidationResult {
	result := ValidationResult{IsValid: true}

	switch {
	case userID < 0:
		result.IsValid = false
		result.AnomalyReason = "negative user id"
	case deviceID < 0:
		result.IsValid = false
		result.AnomalyReason = "negative device id"
	case rawValue < 0:
		result.IsValid = false
		result.AnomalyReason = "negative value detected"
	case rawValue > MaxRawValue:
		result.IsValid = false
		result.AnomalyReason = "value exceeds 5-digit display"
	}

	return result
}
