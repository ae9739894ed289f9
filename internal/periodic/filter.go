package periodic

import (
	"github.com/Yoak3n/ducker/internal/model"
)

// RuleIndex maps rule id to interval for every rule that is calendar
// schedulable. Startup triggers (OnStart, OnceStarted) are left out.
func RuleIndex(rules []model.PeriodicTask) map[string]model.PeriodicInterval {
	idx := make(map[string]model.PeriodicInterval, len(rules))
	for _, r := range rules {
		if r.ID == "" || r.Interval.IsStartupTrigger() {
			continue
		}
		idx[r.ID] = r.Interval
	}
	return idx
}

// Filter keeps the tasks that belong in schedule views: tasks with no rule
// link, and tasks whose rule resolves in the enabled, schedulable set.
// The input slice is not modified; order is preserved.
func Filter(tasks []model.Task, enabledRules []model.PeriodicTask) []model.Task {
	idx := RuleIndex(enabledRules)
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if eligible(t, idx) {
			out = append(out, t)
		}
	}
	return out
}

// Orphans is the complement of Filter: tasks linked to a startup trigger or
// to a rule missing from the enabled set.
func Orphans(tasks []model.Task, enabledRules []model.PeriodicTask) []model.Task {
	idx := RuleIndex(enabledRules)
	var out []model.Task
	for _, t := range tasks {
		if !eligible(t, idx) {
			out = append(out, t)
		}
	}
	return out
}

func eligible(t model.Task, idx map[string]model.PeriodicInterval) bool {
	if t.PeriodicRuleID == nil {
		return true
	}
	_, ok := idx[*t.PeriodicRuleID]
	return ok
}
