package contract

import "github.com/vietddude/artline/internal/core/domain"

// Schema names, also used as the payload field of each envelope.
const (
	SchemaBrief    = "brief"
	SchemaPrompt   = "prompt_package"
	SchemaImage    = "image_result"
	SchemaQA       = "validation"
	SchemaDelivery = "delivery"
)

func strProp() map[string]any {
	return map[string]any{"type": "string"}
}

func stringList() map[string]any {
	return map[string]any{"type": "array", "items": strProp()}
}

func closedObject(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

// nullable lets an object-typed block be sent as an explicit null.
func nullable(schema map[string]any) map[string]any {
	schema["type"] = []string{"object", "null"}
	return schema
}

func errorBlockSchema() map[string]any {
	return closedObject(map[string]any{
		"type":    strProp(),
		"details": strProp(),
	}, "type", "details")
}

func handoffSchema() map[string]any {
	return closedObject(map[string]any{
		"target_agent": strProp(),
		"action":       strProp(),
		"notes":        map[string]any{"type": []string{"string", "null"}},
	}, "target_agent", "action")
}

// envelopeSchema wraps a payload schema with the fields every envelope carries.
// Presence rules that depend on status are checked by the envelope types.
func envelopeSchema(agent domain.Role, statuses []Status, payloadField string, payload map[string]any) map[string]any {
	return closedObject(map[string]any{
		"agent":      map[string]any{"const": string(agent)},
		"status":     map[string]any{"enum": statuses},
		payloadField: nullable(payload),
		"error":      nullable(errorBlockSchema()),
		"handoff":    nullable(handoffSchema()),
	}, "agent", "status")
}

// BriefSchema describes the brief stage output.
func BriefSchema() map[string]any {
	brief := closedObject(map[string]any{
		"theme":               strProp(),
		"mood":                strProp(),
		"tone":                strProp(),
		"palette":             strProp(),
		"visual_elements":     strProp(),
		"keywords":            strProp(),
		"aspect_ratio":        strProp(),
		"style":               strProp(),
		"custom_instructions": strProp(),
		"original_input":      strProp(),
	}, "theme", "mood", "tone", "palette", "visual_elements", "keywords", "aspect_ratio", "style", "original_input")

	return envelopeSchema(domain.RoleBrief, []Status{StatusOK, StatusError}, SchemaBrief, brief)
}

// PromptSchema describes the art direction stage output.
func PromptSchema() map[string]any {
	pkg := closedObject(map[string]any{
		"prompt":          map[string]any{"type": "string", "minLength": 10},
		"negative_prompt": strProp(),
		"aspect_ratio":    strProp(),
		"style":           strProp(),
		"quality":         strProp(),
		"theme":           strProp(),
		"palette":         strProp(),
		"num_images":      map[string]any{"type": "integer", "minimum": 1, "maximum": 4},
	}, "prompt", "negative_prompt", "aspect_ratio", "style", "quality", "theme", "palette")

	return envelopeSchema(domain.RoleArtDirection, []Status{StatusOK, StatusError}, SchemaPrompt, pkg)
}

// ImageSchema describes the image stage output.
func ImageSchema() map[string]any {
	result := closedObject(map[string]any{
		"success":               map[string]any{"type": "boolean"},
		"task_id":               strProp(),
		"image_url":             strProp(),
		"all_image_urls":        stringList(),
		"seed":                  strProp(),
		"prompt_used":           strProp(),
		"aspect_ratio":          strProp(),
		"num_images":            map[string]any{"type": "integer", "minimum": 0},
		"style":                 strProp(),
		"poll_duration_seconds": map[string]any{"type": "number", "minimum": 0},
		"attempts":              map[string]any{"type": "integer", "minimum": 0},
		"error":                 strProp(),
		"retryable":             map[string]any{"type": "boolean"},
	}, "success")
	result["if"] = map[string]any{
		"properties": map[string]any{"success": map[string]any{"const": true}},
	}
	result["then"] = map[string]any{
		"required": []string{"image_url", "seed", "prompt_used", "aspect_ratio"},
	}

	return envelopeSchema(domain.RoleImage, []Status{StatusOK, StatusError}, SchemaImage, result)
}

// QASchema describes the quality gate output. It is used on both outbound edges.
func QASchema() map[string]any {
	verdicts := []Status{StatusPass, StatusPassWithWarnings, StatusRetry, StatusError}
	detail := closedObject(map[string]any{
		"approved":       map[string]any{"type": "boolean"},
		"status":         map[string]any{"enum": verdicts},
		"passed_checks":  stringList(),
		"failed_checks":  stringList(),
		"warnings":       stringList(),
		"issues":         stringList(),
		"recommendation": strProp(),
		"image_info": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"width":  map[string]any{"type": "integer", "minimum": 0},
				"height": map[string]any{"type": "integer", "minimum": 0},
				"format": strProp(),
			},
		},
	}, "approved", "status", "passed_checks", "failed_checks", "warnings", "issues", "recommendation", "image_info")

	return envelopeSchema(domain.RoleQA, verdicts, SchemaQA, detail)
}

// DeliverySchema describes the export stage output.
func DeliverySchema() map[string]any {
	pkg := closedObject(map[string]any{
		"theme":               strProp(),
		"prompt_used":         strProp(),
		"image_url":           strProp(),
		"gdrive_view_url":     strProp(),
		"gdrive_download_url": strProp(),
		"seed":                strProp(),
		"aspect_ratio":        strProp(),
		"filename":            strProp(),
		"file_id":             strProp(),
		"validation_status":   map[string]any{"enum": []Status{StatusPass, StatusPassWithWarnings}},
	}, "theme", "prompt_used", "image_url", "gdrive_view_url", "gdrive_download_url",
		"seed", "aspect_ratio", "filename", "file_id", "validation_status")

	return envelopeSchema(domain.RoleExport, []Status{StatusDelivered, StatusError}, SchemaDelivery, pkg)
}
