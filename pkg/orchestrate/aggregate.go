package orchestrate

import (
	"fmt"
	"strings"

	"github.com/steward-ai/steward/pkg/models"
)

// ConflictOverride records one resolved pairwise conflict between task
// results. Resolution is security-first: the winner's content stands and
// the loser's entry in the unified context is annotated.
type ConflictOverride struct {
	Rule        string `json:"rule"`
	WinningTask string `json:"winning_task"`
	LosingTask  string `json:"losing_task"`
	Detail      string `json:"detail"`
}

const (
	ruleSecurityVsCodegen = "security_vs_codegen"
	ruleSchemaVsCode      = "schema_vs_code"
)

// aggregation is the unified view handed to synthesis after the plan
// reaches a fixed point.
type aggregation struct {
	// Context maps "<pool>/<task id>" to the task's result; failed tasks
	// map to a {status, reason} marker instead.
	Context   map[string]any
	Overrides []ConflictOverride
	Failed    []string
}

// aggregateResults validates completed task results against their pool
// shape, detects the closed conflict set, resolves security-first, and
// builds the unified context. Shape-invalid results are demoted to
// failures in place.
func aggregateResults(plan *Plan) *aggregation {
	agg := &aggregation{Context: make(map[string]any)}

	var codegen, security, database []*models.Task
	for _, task := range plan.Tasks() {
		if task.Status == models.TaskStatusCompleted {
			if reason := shapeInvalid(task); reason != "" {
				task.Status = models.TaskStatusFailed
				task.ErrorDetail = "shape_invalid: " + reason
			}
		}
		if task.Status != models.TaskStatusCompleted {
			agg.Failed = append(agg.Failed, task.ID)
			agg.Context[contextKey(task)] = map[string]any{
				"status": string(task.Status),
				"reason": task.ErrorDetail,
			}
			continue
		}
		agg.Context[contextKey(task)] = task.Result
		switch task.Pool {
		case models.PoolCodegen:
			codegen = append(codegen, task)
		case models.PoolSecurity:
			security = append(security, task)
		case models.PoolDatabase:
			database = append(database, task)
		}
	}

	agg.Overrides = append(agg.Overrides, securityConflicts(security, codegen)...)
	agg.Overrides = append(agg.Overrides, schemaConflicts(database, codegen)...)

	// Annotate losing entries so synthesis sees the resolution.
	for _, override := range agg.Overrides {
		loser := plan.Get(override.LosingTask)
		if loser == nil || loser.Result == nil {
			continue
		}
		notes, _ := loser.Result["overridden_by"].([]any)
		loser.Result["overridden_by"] = append(notes, map[string]any{
			"rule":   override.Rule,
			"task":   override.WinningTask,
			"detail": override.Detail,
		})
	}
	return agg
}

func contextKey(task *models.Task) string {
	return string(task.Pool) + "/" + task.ID
}

// shapeInvalid returns a non-empty reason when a completed result lacks
// its pool's required shape.
func shapeInvalid(task *models.Task) string {
	switch task.Pool {
	case models.PoolCodegen:
		if code, ok := task.Result["code"].(string); !ok || code == "" {
			return `codegen result missing non-empty "code" field`
		}
	case models.PoolSecurity:
		if _, ok := task.Result["findings"].([]any); !ok {
			return `security result missing "findings" list`
		}
	case models.PoolDatabase:
		switch schema := task.Result["schema"].(type) {
		case string:
			if schema == "" {
				return `database result has empty "schema" field`
			}
		case map[string]any:
			if len(schema) == 0 {
				return `database result has empty "schema" field`
			}
		default:
			return `database result missing "schema" field`
		}
	}
	return ""
}

// securityConflicts detects findings whose remediation text is not
// reflected in any corresponding codegen output. Security wins.
func securityConflicts(security, codegen []*models.Task) []ConflictOverride {
	var overrides []ConflictOverride
	for _, sec := range security {
		findings, _ := sec.Result["findings"].([]any)
		for _, raw := range findings {
			finding, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			remediation, _ := finding["remediation"].(string)
			if remediation == "" {
				continue
			}
			for _, code := range codegen {
				text, _ := code.Result["code"].(string)
				if containsFold(text, remediation) {
					continue
				}
				overrides = append(overrides, ConflictOverride{
					Rule:        ruleSecurityVsCodegen,
					WinningTask: sec.ID,
					LosingTask:  code.ID,
					Detail:      fmt.Sprintf("remediation %q not reflected in codegen output", remediation),
				})
			}
		}
	}
	return overrides
}

// schemaConflicts detects codegen outputs referencing columns absent
// from the database schema result. The schema wins.
func schemaConflicts(database, codegen []*models.Task) []ConflictOverride {
	var overrides []ConflictOverride
	for _, code := range codegen {
		references, _ := code.Result["references"].([]any)
		for _, raw := range references {
			column, ok := raw.(string)
			if !ok || column == "" {
				continue
			}
			for _, db := range database {
				if schemaContains(db.Result["schema"], column) {
					continue
				}
				overrides = append(overrides, ConflictOverride{
					Rule:        ruleSchemaVsCode,
					WinningTask: db.ID,
					LosingTask:  code.ID,
					Detail:      fmt.Sprintf("column %q not present in schema", column),
				})
			}
		}
	}
	return overrides
}

func schemaContains(schema any, column string) bool {
	switch s := schema.(type) {
	case string:
		return containsFold(s, column)
	case map[string]any:
		for table, columns := range s {
			if strings.EqualFold(table, column) {
				return true
			}
			if list, ok := columns.([]any); ok {
				for _, c := range list {
					if name, ok := c.(string); ok && strings.EqualFold(name, column) {
						return true
					}
				}
			}
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
