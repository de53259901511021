package pipeline

import (
	"encoding/json"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/routing"
)

// Error types reported on a failed run besides those a stage sends itself.
const (
	ErrTypeStageUnavailable  = "stage_unavailable"
	ErrTypeContractViolation = "contract_violation"
	ErrTypeImageFailed       = "image_failed"
	ErrTypeRetriesExhausted  = "qa_retry_exhausted"
	ErrTypeCancelled         = "cancelled"
)

// OutcomeError describes why a run stopped.
type OutcomeError struct {
	Type             string                 `json:"type"`
	Code             contract.ViolationCode `json:"code,omitempty"`
	Details          string                 `json:"details"`
	FieldErrors      []contract.FieldError  `json:"field_errors,omitempty"`
	RawOutputPreview string                 `json:"raw_output_preview,omitempty"`
}

// Outcome is what a run hands back to its caller. It always marshals to JSON,
// whether the run delivered or failed.
type Outcome struct {
	RunID         string                     `json:"run_id"`
	Status        domain.RunStatus           `json:"status"`
	Stage         domain.Role                `json:"stage"`
	Regenerations int                        `json:"regenerations"`
	Delivery      *contract.DeliveryPackage  `json:"delivery,omitempty"`
	Verdict       *contract.ValidationDetail `json:"validation,omitempty"`
	Error         *OutcomeError              `json:"error,omitempty"`
}

func (o *Outcome) Delivered() bool {
	return o.Status == domain.RunStatusDelivered
}

// JSON renders the outcome. Marshalling these types cannot fail.
func (o *Outcome) JSON() []byte {
	b, _ := json.MarshalIndent(o, "", "  ")
	return b
}

func rejectionError(rej *routing.Rejection) *OutcomeError {
	resp := rej.Response()
	oe := &OutcomeError{
		Type:        ErrTypeContractViolation,
		Code:        resp.Code,
		Details:     resp.Details,
		FieldErrors: resp.FieldErrors,
	}
	if resp.RawOutputPreview != nil {
		oe.RawOutputPreview = *resp.RawOutputPreview
	}
	return oe
}
