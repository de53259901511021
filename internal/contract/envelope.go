package contract

import "github.com/vietddude/artline/internal/core/domain"

// Status is the envelope status tag. Each stage accepts its own subset.
type Status string

const (
	StatusOK               Status = "ok"
	StatusError            Status = "error"
	StatusPass             Status = "pass"
	StatusPassWithWarnings Status = "pass_with_warnings"
	StatusRetry            Status = "retry"
	StatusDelivered        Status = "delivered"
)

// ErrorInfo is the error block shared by every stage.
type ErrorInfo struct {
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Handoff hints where the payload should go next.
type Handoff struct {
	TargetAgent string  `json:"target_agent"`
	Action      string  `json:"action"`
	Notes       *string `json:"notes,omitempty"`
}

// Header carries the fields common to all envelopes.
type Header struct {
	Agent   domain.Role `json:"agent"`
	Status  Status      `json:"status"`
	Handoff *Handoff    `json:"handoff,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

func (h Header) Sender() domain.Role { return h.Agent }
func (h Header) State() Status       { return h.Status }
func (h Header) Failure() *ErrorInfo { return h.Error }
func (h Header) NextHop() *Handoff   { return h.Handoff }

// Envelope is one of BriefEnvelope, PromptEnvelope, ImageEnvelope, QAEnvelope or
// DeliveryEnvelope. The unexported methods keep the set closed.
type Envelope interface {
	Sender() domain.Role
	State() Status
	Failure() *ErrorInfo
	NextHop() *Handoff

	// Succeeded reports whether the status is one that requires the payload.
	Succeeded() bool

	check() []FieldError
	normalize(d Defaults)
}

// BriefContent is the creative brief extracted from the user's request.
type BriefContent struct {
	Theme              string  `json:"theme"`
	Mood               string  `json:"mood"`
	Tone               string  `json:"tone"`
	Palette            string  `json:"palette"`
	VisualElements     string  `json:"visual_elements"`
	Keywords           string  `json:"keywords"`
	AspectRatio        string  `json:"aspect_ratio"`
	Style              string  `json:"style"`
	CustomInstructions *string `json:"custom_instructions,omitempty"`
	OriginalInput      string  `json:"original_input"`
}

type BriefEnvelope struct {
	Header
	Brief *BriefContent `json:"brief,omitempty"`
}

func (e *BriefEnvelope) Succeeded() bool { return e.Status == StatusOK }

func (e *BriefEnvelope) check() []FieldError {
	return checkPresence(e.Header, "brief", e.Brief != nil, StatusOK)
}

func (e *BriefEnvelope) normalize(d Defaults) {
	if e.Brief == nil {
		return
	}
	e.Brief.AspectRatio = NormalizeAspectRatio(e.Brief.AspectRatio, d.AspectRatio)
	if e.Brief.Style == "" {
		e.Brief.Style = d.Style
	}
}

// PromptPackage is the art-directed prompt handed to the image stage.
type PromptPackage struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	AspectRatio    string `json:"aspect_ratio"`
	Style          string `json:"style"`
	Quality        string `json:"quality"`
	Theme          string `json:"theme"`
	Palette        string `json:"palette"`
	NumImages      *int   `json:"num_images,omitempty"`
}

type PromptEnvelope struct {
	Header
	PromptPackage *PromptPackage `json:"prompt_package,omitempty"`
}

func (e *PromptEnvelope) Succeeded() bool { return e.Status == StatusOK }

func (e *PromptEnvelope) check() []FieldError {
	return checkPresence(e.Header, "prompt_package", e.PromptPackage != nil, StatusOK)
}

func (e *PromptEnvelope) normalize(d Defaults) {
	p := e.PromptPackage
	if p == nil {
		return
	}
	p.AspectRatio = NormalizeAspectRatio(p.AspectRatio, d.AspectRatio)
	if p.Style == "" {
		p.Style = d.Style
	}
	if p.Quality == "" {
		p.Quality = d.Quality
	}
}

// ImageResult is the outcome of a generation job.
type ImageResult struct {
	Success             bool     `json:"success"`
	TaskID              *string  `json:"task_id,omitempty"`
	ImageURL            string   `json:"image_url"`
	AllImageURLs        []string `json:"all_image_urls,omitempty"`
	Seed                string   `json:"seed"`
	PromptUsed          string   `json:"prompt_used"`
	AspectRatio         string   `json:"aspect_ratio"`
	NumImages           *int     `json:"num_images,omitempty"`
	Style               *string  `json:"style,omitempty"`
	PollDurationSeconds *float64 `json:"poll_duration_seconds,omitempty"`
	Attempts            *int     `json:"attempts,omitempty"`
	Error               *string  `json:"error,omitempty"`
	Retryable           *bool    `json:"retryable,omitempty"`
}

type ImageEnvelope struct {
	Header
	ImageResult *ImageResult `json:"image_result,omitempty"`
}

func (e *ImageEnvelope) Succeeded() bool { return e.Status == StatusOK }

func (e *ImageEnvelope) check() []FieldError {
	errs := checkPresence(e.Header, "image_result", e.ImageResult != nil, StatusOK)
	r := e.ImageResult
	if r == nil {
		return errs
	}
	if r.Success && r.ImageURL == "" && firstNonEmpty(r.AllImageURLs) == "" {
		errs = append(errs, FieldError{Field: "image_result.image_url", Message: "required when success is true"})
	}
	if !r.Success && (r.Error == nil || *r.Error == "") {
		errs = append(errs, FieldError{Field: "image_result.error", Message: "required when success is false"})
	}
	return errs
}

func (e *ImageEnvelope) normalize(d Defaults) {
	r := e.ImageResult
	if r == nil {
		return
	}
	if r.AllImageURLs != nil {
		urls := make([]string, 0, len(r.AllImageURLs))
		for _, u := range r.AllImageURLs {
			if u != "" {
				urls = append(urls, u)
			}
		}
		r.AllImageURLs = urls
	}
	if r.Success && r.ImageURL == "" && len(r.AllImageURLs) > 0 {
		r.ImageURL = r.AllImageURLs[0]
	}
	if r.Success && len(r.AllImageURLs) == 0 && r.ImageURL != "" {
		r.AllImageURLs = []string{r.ImageURL}
	}
	if r.AspectRatio != "" || r.Success {
		r.AspectRatio = NormalizeAspectRatio(r.AspectRatio, d.AspectRatio)
	}
}

// ValidationDetail is the QA verdict.
type ValidationDetail struct {
	Approved       bool           `json:"approved"`
	Status         Status         `json:"status"`
	PassedChecks   []string       `json:"passed_checks"`
	FailedChecks   []string       `json:"failed_checks"`
	Warnings       []string       `json:"warnings"`
	Issues         []string       `json:"issues"`
	Recommendation string         `json:"recommendation"`
	ImageInfo      map[string]any `json:"image_info"`
}

type QAEnvelope struct {
	Header
	Validation *ValidationDetail `json:"validation,omitempty"`
}

func (e *QAEnvelope) Succeeded() bool {
	switch e.Status {
	case StatusPass, StatusPassWithWarnings, StatusRetry:
		return true
	}
	return false
}

func (e *QAEnvelope) check() []FieldError {
	errs := checkPresence(e.Header, "validation", e.Validation != nil,
		StatusPass, StatusPassWithWarnings, StatusRetry)
	if e.Validation != nil && e.Succeeded() && e.Validation.Status != e.Status {
		errs = append(errs, FieldError{
			Field:   "validation.status",
			Message: "must match envelope status " + string(e.Status) + ", got " + string(e.Validation.Status),
		})
	}
	return errs
}

func (e *QAEnvelope) normalize(Defaults) {}

// Approved reports whether the verdict lets the image advance to export.
func (e *QAEnvelope) Approved() bool {
	return e.Status == StatusPass || e.Status == StatusPassWithWarnings
}

// DeliveryPackage describes the exported artifact.
type DeliveryPackage struct {
	Theme             string `json:"theme"`
	PromptUsed        string `json:"prompt_used"`
	ImageURL          string `json:"image_url"`
	GDriveViewURL     string `json:"gdrive_view_url"`
	GDriveDownloadURL string `json:"gdrive_download_url"`
	Seed              string `json:"seed"`
	AspectRatio       string `json:"aspect_ratio"`
	Filename          string `json:"filename"`
	FileID            string `json:"file_id"`
	ValidationStatus  Status `json:"validation_status"`
}

type DeliveryEnvelope struct {
	Header
	Delivery *DeliveryPackage `json:"delivery,omitempty"`
}

func (e *DeliveryEnvelope) Succeeded() bool { return e.Status == StatusDelivered }

func (e *DeliveryEnvelope) check() []FieldError {
	return checkPresence(e.Header, "delivery", e.Delivery != nil, StatusDelivered)
}

func (e *DeliveryEnvelope) normalize(d Defaults) {
	if e.Delivery == nil {
		return
	}
	e.Delivery.AspectRatio = NormalizeAspectRatio(e.Delivery.AspectRatio, d.AspectRatio)
}

// checkPresence enforces that a success status carries the payload and no error
// block, and that status=error carries the error block and no payload.
func checkPresence(h Header, field string, hasPayload bool, success ...Status) []FieldError {
	var errs []FieldError
	isSuccess := false
	for _, s := range success {
		if h.Status == s {
			isSuccess = true
			break
		}
	}

	switch {
	case isSuccess:
		if !hasPayload {
			errs = append(errs, FieldError{Field: field, Message: "required when status=" + string(h.Status)})
		}
		if h.Error != nil {
			errs = append(errs, FieldError{Field: "error", Message: "must be absent when status=" + string(h.Status)})
		}
	case h.Status == StatusError:
		if h.Error == nil {
			errs = append(errs, FieldError{Field: "error", Message: "required when status=error"})
		}
		if hasPayload {
			errs = append(errs, FieldError{Field: field, Message: "must be absent when status=error"})
		}
	}
	return errs
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
