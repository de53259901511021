package kie

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/core/failure"
)

// apiResponse covers both response shapes the API has used: a success flag, or a
// code/msg pair, with the payload under data or at the top level.
type apiResponse struct {
	Success *bool           `json:"success"`
	Code    json.RawMessage `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	TaskID  string          `json:"taskId"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`

	data *taskData
}

type taskData struct {
	TaskID   string          `json:"taskId"`
	Status   string          `json:"status"`
	State    string          `json:"state"`
	Prompt   string          `json:"prompt"`
	Seed     json.RawMessage `json:"seed"`
	FailMsg  string          `json:"failMsg"`
	Error    json.RawMessage `json:"error"`
	Images   []imageRecord   `json:"images"`
	Records  []imageRecord   `json:"records"`
	Response *struct {
		ResultURLs []string `json:"resultUrls"`
	} `json:"response"`
}

type imageRecord struct {
	URL      string          `json:"url"`
	ImageURL string          `json:"imageUrl"`
	CDNURL   string          `json:"cdnUrl"`
	Seed     json.RawMessage `json:"seed"`
	Meta     struct {
		Seed json.RawMessage `json:"seed"`
	} `json:"meta"`
}

func (r imageRecord) link() string {
	for _, u := range []string{r.ImageURL, r.URL, r.CDNURL} {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}

func decodeResponse(body []byte) (*apiResponse, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &failure.MalformedError{Detail: "decode response: " + snippet(body), Err: err}
	}
	raw := bytes.TrimSpace(resp.Data)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var data taskData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, &failure.MalformedError{Detail: "decode data section: " + snippet(body), Err: err}
		}
		resp.data = &data
	}
	return &resp, nil
}

func (r *apiResponse) message() string {
	if r.Msg != "" {
		return r.Msg
	}
	return r.Message
}

// apiError turns an in-band failure into a classified error. HTTP-like codes
// reported in the body are treated as if they were the response status.
func (r *apiResponse) apiError() error {
	if code, ok := r.code(); ok && code != 0 && code != 200 {
		if code >= 400 {
			return &failure.StatusError{StatusCode: code, Body: r.message()}
		}
		return &failure.RemoteFailure{Status: strconv.Itoa(code), Message: r.message()}
	}
	if r.Success != nil && !*r.Success {
		return &failure.RemoteFailure{Message: r.message()}
	}
	return nil
}

func (r *apiResponse) code() (int, bool) {
	raw := strings.Trim(strings.TrimSpace(string(r.Code)), `"`)
	if raw == "" || raw == "null" {
		return 0, false
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return code, true
}

func (r *apiResponse) report(taskID string, body []byte) (*domain.TaskReport, error) {
	status := r.Status
	if r.data != nil {
		if r.data.Status != "" {
			status = r.data.Status
		} else if r.data.State != "" {
			status = r.data.State
		}
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return nil, &failure.MalformedError{Detail: "missing status in record info: " + snippet(body)}
	}

	report := &domain.TaskReport{
		TaskID:    taskID,
		RawStatus: status,
		State:     stateOf(status),
		Raw:       json.RawMessage(body),
	}
	if r.data == nil {
		return report, nil
	}

	report.PromptUsed = r.data.Prompt
	report.Seed = seedString(r.data.Seed)
	report.Message = r.data.FailMsg
	if report.Message == "" {
		report.Message = rawString(r.data.Error)
	}

	records := r.data.Records
	if len(records) == 0 {
		records = r.data.Images
	}
	for _, rec := range records {
		if u := rec.link(); u != "" {
			report.ImageURLs = append(report.ImageURLs, u)
		}
		if report.Seed == "" {
			report.Seed = seedString(rec.Seed)
		}
		if report.Seed == "" {
			report.Seed = seedString(rec.Meta.Seed)
		}
	}
	if len(report.ImageURLs) == 0 && r.data.Response != nil {
		for _, u := range r.data.Response.ResultURLs {
			if u = strings.TrimSpace(u); u != "" {
				report.ImageURLs = append(report.ImageURLs, u)
			}
		}
	}

	if report.State == domain.TaskStateCompleted && len(report.ImageURLs) == 0 {
		return nil, &failure.MalformedError{Detail: "no image records in completed task: " + snippet(body)}
	}
	return report, nil
}

func stateOf(status string) domain.TaskState {
	switch status {
	case "completed", "success", "succeeded":
		return domain.TaskStateCompleted
	case "failed", "error", "fail":
		return domain.TaskStateFailed
	default:
		return domain.TaskStateRunning
	}
}

// seedString accepts a number or a string.
func seedString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
