package config

// Tier is one budget gate: a hard USD limit and a warning threshold
// strictly below it.
type Tier struct {
	LimitUSD float64 `yaml:"limit_usd"`
	WarnUSD  float64 `yaml:"warn_usd"`
}

// ProjectBudget overrides tiers for a single project. Nil tiers fall
// through to the global defaults.
type ProjectBudget struct {
	PerTask *Tier `yaml:"per_task,omitempty"`
	Daily   *Tier `yaml:"daily,omitempty"`
	Monthly *Tier `yaml:"monthly,omitempty"`
}

// BudgetConfig controls the cost ledger and quota gates.
type BudgetConfig struct {
	// LedgerPath is the append-only NDJSON cost log location.
	LedgerPath string `yaml:"ledger_path"`

	// Global tier defaults, overridable per project.
	PerTask Tier `yaml:"per_task"`
	Daily   Tier `yaml:"daily"`
	Monthly Tier `yaml:"monthly"`

	Projects map[string]*ProjectBudget `yaml:"projects,omitempty"`
}

// DefaultBudgetConfig returns the built-in budget defaults.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		LedgerPath: "./data/costs.jsonl",
		PerTask:    Tier{LimitUSD: 10, WarnUSD: 5},
		Daily:      Tier{LimitUSD: 50, WarnUSD: 40},
		Monthly:    Tier{LimitUSD: 1000, WarnUSD: 800},
	}
}

// TiersFor resolves the effective tiers for a project.
func (c *BudgetConfig) TiersFor(project string) (perTask, daily, monthly Tier) {
	perTask, daily, monthly = c.PerTask, c.Daily, c.Monthly
	override, ok := c.Projects[project]
	if !ok || override == nil {
		return perTask, daily, monthly
	}
	if override.PerTask != nil {
		perTask = *override.PerTask
	}
	if override.Daily != nil {
		daily = *override.Daily
	}
	if override.Monthly != nil {
		monthly = *override.Monthly
	}
	return perTask, daily, monthly
}
