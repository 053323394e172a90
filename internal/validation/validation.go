// Package validation provides input validation helpers for the SwiftRamp API.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 2000

// Supported assets and fiat currencies.
var (
	supportedAssets = map[string]bool{"BTC": true, "ETH": true, "USDT": true}
	supportedFiat   = map[string]bool{"NGN": true, "KES": true}
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsSupportedAsset checks if the asset symbol is tradable.
func IsSupportedAsset(asset string) bool {
	return supportedAssets[strings.ToUpper(asset)]
}

// IsSupportedFiat checks if the fiat currency is supported.
func IsSupportedFiat(currency string) bool {
	return supportedFiat[strings.ToUpper(currency)]
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAsset checks if a field names a supported asset
func ValidAsset(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsSupportedAsset(value) {
			return &ValidationError{Field: field, Message: "must be one of BTC, ETH, USDT"}
		}
		return nil
	}
}

// ValidFiat checks if a field names a supported fiat currency
func ValidFiat(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsSupportedFiat(value) {
			return &ValidationError{Field: field, Message: "must be one of NGN, KES"}
		}
		return nil
	}
}

// ValidSide checks if a field is a valid trade direction
func ValidSide(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if value != "buy" && value != "sell" {
			return &ValidationError{Field: field, Message: "must be buy or sell"}
		}
		return nil
	}
}

// PositiveAmount checks if a numeric field is greater than zero
func PositiveAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// AmountWithin checks a numeric field against configured min/max bounds.
// Zero bounds are treated as unset.
func AmountWithin(field string, value, min, max float64) func() *ValidationError {
	return func() *ValidationError {
		if min > 0 && value < min {
			return &ValidationError{Field: field, Message: "below minimum tradable amount"}
		}
		if max > 0 && value > max {
			return &ValidationError{Field: field, Message: "above maximum tradable amount"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
