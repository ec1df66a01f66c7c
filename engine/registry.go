package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the currently active, compiled workflow set and serves
// it to evaluation requests. The set is rebuilt wholesale on Reload and
// swapped atomically, so readers see either the old set or the new set
// in full, never a mix.
type Registry struct {
	store    RuleStore
	compiler *Compiler
	log      *slog.Logger

	mu        sync.RWMutex
	names     []string
	workflows map[string]*Workflow
}

// NewRegistry creates a registry with an empty active set. Call Reload
// to populate it; zero active workflows is a legal (if inert) state.
func NewRegistry(store RuleStore, compiler *Compiler, log *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		compiler:  compiler,
		log:       log,
		workflows: make(map[string]*Workflow),
	}
}

// Reload rebuilds the active set from the rules currently marked active
// in the store. Rules that fail to compile are logged and skipped so a
// bad rule never blocks the others. If the store is unreachable the
// previous set keeps serving and the error is returned.
func (r *Registry) Reload(ctx context.Context) error {
	rules, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active earning rules: %w", err)
	}

	names := make([]string, 0, len(rules))
	workflows := make(map[string]*Workflow, len(rules))
	skipped := 0
	for _, rule := range rules {
		wf, err := r.compiler.Compile(rule.RuleJSON)
		if err != nil {
			r.log.Warn("skipping earning rule that failed to compile",
				"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
			skipped++
			continue
		}
		// Add-or-replace: a later workflow with the same name wins but
		// keeps the first occurrence's position.
		if _, exists := workflows[wf.Name]; !exists {
			names = append(names, wf.Name)
		}
		workflows[wf.Name] = wf
	}

	r.mu.Lock()
	r.names = names
	r.workflows = workflows
	r.mu.Unlock()

	r.log.Info("earning rule registry reloaded",
		"active_workflows", len(names), "skipped", skipped)

	return nil
}

// ActiveWorkflowNames returns the names of the active workflows in the
// order they were installed by the last reload.
func (r *Registry) ActiveWorkflowNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Workflow returns the active workflow with the given name.
func (r *Registry) Workflow(name string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[name]
	return wf, ok
}

// Snapshot returns the ordered active set as one consistent slice. An
// evaluation pass iterates a snapshot so a concurrent reload cannot
// expose it to a mixed set.
func (r *Registry) Snapshot() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make([]*Workflow, 0, len(r.names))
	for _, name := range r.names {
		set = append(set, r.workflows[name])
	}
	return set
}
