package search

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request defaults and bounds.
const (
	DefaultTopK       = 10
	DefaultRerankTopK = 5
	MaxTopK           = 100
	MaxRerankTopK     = 50
	MinPoolSize       = 20
	PoolMultiplier    = 3
)

// Request is a semantic search request. Use NewRequest to start from defaults;
// out-of-range values are rejected, never clamped.
type Request struct {
	Query        string   `json:"query" validate:"required"`
	TopK         int      `json:"top_k" validate:"min=1,max=100"`
	Rerank       bool     `json:"rerank"`
	RerankTopK   int      `json:"rerank_top_k" validate:"min=1,max=50"`
	FilterLabels []string `json:"filter_labels,omitempty"`
}

// NewRequest returns a request for query with default parameters.
func NewRequest(query string) Request {
	return Request{
		Query:      query,
		TopK:       DefaultTopK,
		Rerank:     true,
		RerankTopK: DefaultRerankTopK,
	}
}

// PoolSize is the number of candidates requested from the index.
func (r Request) PoolSize() int {
	if !r.Rerank {
		return r.TopK
	}
	return max(r.TopK*PoolMultiplier, MinPoolSize)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request bounds and returns a *ValidationError naming the
// first offending field.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return &ValidationError{Field: "query", Message: "must not be empty"}
	}
	if err := validate.Struct(r); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		msg = fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}
