package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/dispatch"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

// synthesize runs the one final coordinator call: budget preflight,
// route with the coordinator hint, then a normal dispatch. Failed
// branches are summarized deterministically below the model's answer so
// partial completion is always visible to the caller.
func (o *Orchestrator) synthesize(ctx context.Context, agg *aggregation, coord *Coordination) (response, agentID string, costUSD float64, err error) {
	prompt := buildSynthesisPrompt(coord.Request, agg)

	decision := o.router.Select(ctx, coord.Request, coord.SessionContext, o.cfg.CoordinatorAgent)

	estIn, estOut := budget.EstimateTokens(prompt)
	verdict, err := o.enforcer.CheckBudget(coord.Project, decision.AgentID, "", estIn, estOut)
	if err != nil {
		return "", "", 0, err
	}
	if !verdict.Approved() {
		return "", "", 0, fault.New(fault.KindBudgetExceeded, "synthesis rejected: %s", verdict.Reason)
	}

	result, err := o.dispatcher.Dispatch(ctx, decision.AgentID, prompt, coord.SessionContext, &dispatch.Options{
		Project:   coord.Project,
		Operation: models.OperationSynthesis,
	})
	if err != nil {
		return "", "", 0, fault.Wrap(fault.KindOf(err), err, "synthesis call failed")
	}

	text := result.Text
	if len(agg.Failed) > 0 {
		text += "\n\n" + incompleteSummary(agg.Failed)
	}
	return text, result.AgentID, result.CostUSD, nil
}

// buildSynthesisPrompt composes the coordinator prompt from the original
// request and the unified context, including recorded overrides.
func buildSynthesisPrompt(request string, agg *aggregation) string {
	var b strings.Builder
	b.WriteString("Synthesize a single coherent answer to the request below from the task results that follow.\n")
	b.WriteString("Honor every recorded override: overridden content must not be presented as a recommendation.\n")
	if len(agg.Failed) > 0 {
		b.WriteString("Some tasks did not complete; state clearly which parts of the answer are missing.\n")
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(request)
	b.WriteString("\n\nTask results:\n")
	b.Write(mustJSON(agg.Context))
	if len(agg.Overrides) > 0 {
		b.WriteString("\n\nOverrides:\n")
		b.Write(mustJSON(agg.Overrides))
	}
	return b.String()
}

// incompleteSummary is appended verbatim to the synthesized answer so
// incomplete branches are reported even when the model omits them.
func incompleteSummary(failed []string) string {
	return fmt.Sprintf("Could not complete: %s.", strings.Join(failed, ", "))
}

func mustJSON(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return data
}
