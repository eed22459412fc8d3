package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError describes one semantic defect in a plan graph: something
// the JSON Schema can't express (duplicate IDs, dangling dependencies,
// cycles).
type ValidationError struct {
	TaskID  string
	Message string
}

func (e ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every semantic defect found in one pass.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// NormalizePlanDocument validates data against the JSON Schema, then checks
// the graph-level invariants the schema can't express (unique task IDs,
// dependencies that resolve, no cycles), and computes ExecutionOrder /
// ExecutionLayers by Kahn's algorithm. It returns the normalized document
// and its re-marshaled JSON (now including execution_layers) so callers can
// persist the enriched form alongside the planner's raw output.
func NormalizePlanDocument(data []byte) (PlanDocument, []byte, error) {
	if err := ValidatePlanDocument(data); err != nil {
		return PlanDocument{}, nil, err
	}

	var doc PlanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return PlanDocument{}, nil, fmt.Errorf("unmarshal plan document: %w", err)
	}

	byID := make(map[string]PlanTask, len(doc.Tasks))
	var errs ValidationErrors
	for _, task := range doc.Tasks {
		if _, exists := byID[task.ID]; exists {
			errs = append(errs, ValidationError{TaskID: task.ID, Message: "duplicate task id"})
			continue
		}
		byID[task.ID] = task
	}
	for _, task := range doc.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := byID[dep]; !ok {
				errs = append(errs, ValidationError{TaskID: task.ID, Message: fmt.Sprintf("unknown dependency %q", dep)})
			}
		}
	}
	if len(errs) > 0 {
		return PlanDocument{}, nil, errs
	}

	order, layers, err := layerTasks(doc.Tasks)
	if err != nil {
		return PlanDocument{}, nil, err
	}
	doc.ExecutionOrder = order
	doc.ExecutionLayers = layers

	normalized, err := json.Marshal(doc)
	if err != nil {
		return PlanDocument{}, nil, fmt.Errorf("marshal normalized plan: %w", err)
	}
	return doc, normalized, nil
}

// layerTasks runs Kahn's algorithm, peeling off every task with zero
// remaining dependencies as one layer at a time. A non-empty remainder once
// no task has zero indegree means the graph has a cycle.
func layerTasks(tasks []PlanTask) ([]string, []PlanStage, error) {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	remaining := len(tasks)
	var order []string
	var layers []PlanStage
	for remaining > 0 {
		var ready []string
		for _, t := range tasks {
			if indegree[t.ID] == 0 {
				ready = append(ready, t.ID)
			}
		}
		if len(ready) == 0 {
			return nil, nil, fmt.Errorf("plan graph has a cycle: %d task(s) unresolved", remaining)
		}
		for _, id := range ready {
			indegree[id] = -1 // mark consumed, excluded from future "ready" scans
			order = append(order, id)
			remaining--
			for _, next := range dependents[id] {
				indegree[next]--
			}
		}
		layers = append(layers, PlanStage{Tasks: ready})
	}
	return order, layers, nil
}
