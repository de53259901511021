package domain

import "strings"

// Role identifies a pipeline stage by the agent that produces its output.
type Role string

const (
	RoleBrief        Role = "brief_agent"
	RoleArtDirection Role = "art_direction_agent"
	RoleImage        Role = "nb_image_agent"
	RoleQA           Role = "qa_agent"
	RoleExport       Role = "export_agent"
	RoleOrchestrator Role = "orchestrator_agent"
)

// ParseRole normalizes a role name as found in payloads and URLs.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

func (r Role) String() string {
	return string(r)
}

// Edge is a directed handoff between two stages.
type Edge struct {
	From Role
	To   Role
}

func (e Edge) String() string {
	return string(e.From) + "->" + string(e.To)
}

var pipelineOrder = []Role{RoleBrief, RoleArtDirection, RoleImage, RoleQA, RoleExport, RoleOrchestrator}

// Position returns the role's index in the pipeline, or -1 for roles outside it.
func (r Role) Position() int {
	for i, p := range pipelineOrder {
		if p == r {
			return i
		}
	}
	return -1
}

// IsBackEdge reports whether the edge returns control to an earlier stage.
func (e Edge) IsBackEdge() bool {
	from, to := e.From.Position(), e.To.Position()
	return from >= 0 && to >= 0 && to < from
}
