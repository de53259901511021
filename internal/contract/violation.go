package contract

import (
	"fmt"
	"strings"

	"github.com/vietddude/artline/internal/core/domain"
)

// ViolationCode distinguishes unparseable payloads from structural mismatches.
type ViolationCode string

const (
	CodeNonParseable   ViolationCode = "non_parseable"
	CodeSchemaMismatch ViolationCode = "schema_mismatch"
)

// DefaultPreviewLimit bounds the raw payload excerpt kept on a violation.
const DefaultPreviewLimit = 500

// FieldError locates one structural problem. Field is a dotted path from the
// envelope root, e.g. "brief.theme".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ContractViolation is returned when a payload fails validation for an edge.
type ContractViolation struct {
	Code        ViolationCode
	Sender      domain.Role
	Recipient   domain.Role
	Schema      string
	Detail      string
	FieldErrors []FieldError
	Preview     string
}

func (v *ContractViolation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "contract violation %s->%s (%s): %s", v.Sender, v.Recipient, v.Schema, v.Code)
	if v.Detail != "" {
		b.WriteString(": ")
		b.WriteString(v.Detail)
	}
	for i, fe := range v.FieldErrors {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(fe.String())
	}
	return b.String()
}

// HasField reports whether any field error points at field.
func (v *ContractViolation) HasField(field string) bool {
	for _, fe := range v.FieldErrors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Preview returns at most limit characters of raw.
func Preview(raw []byte, limit int) string {
	if limit <= 0 {
		return ""
	}
	s := string(raw)
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
