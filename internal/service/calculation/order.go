package calculation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/template"
)

var ErrFormulaCycle = errors.New("formula references form a cycle")

// componentRef matches components.name and components["name"].
var componentRef = regexp.MustCompile(`components\s*(?:\.\s*([A-Za-z_][A-Za-z0-9_]*)|\[\s*["']([^"']+)["']\s*\])`)

// references returns the names expr reads from the components map.
func references(expr string) []string {
	var names []string
	for _, m := range componentRef.FindAllStringSubmatch(expr, -1) {
		if m[1] != "" {
			names = append(names, m[1])
		} else {
			names = append(names, m[2])
		}
	}
	return names
}

// evaluationOrder sorts a section so every component comes after the
// components of the same section it references. Independent components keep
// name order. A cycle is returned as a *FormulaEvaluationError naming the
// first component on it.
func evaluationOrder(section string, comps template.ComponentMap) ([]string, error) {
	names := comps.Names()
	dependents := make(map[string][]string, len(names))
	pending := make(map[string]int, len(names))

	for _, name := range names {
		seen := map[string]bool{}
		for _, ref := range references(comps[name].Formula) {
			if _, ok := comps[ref]; !ok || seen[ref] {
				continue
			}
			seen[ref] = true
			pending[name]++
			dependents[ref] = append(dependents[ref], name)
		}
	}

	var ready []string
	for _, name := range names {
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unlocked []string
		for _, dep := range dependents[name] {
			pending[dep]--
			if pending[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) < len(names) {
		var cyclic []string
		for _, name := range names {
			if pending[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		first := cyclic[0]
		return nil, &FormulaEvaluationError{
			Section:   section,
			Component: first,
			Formula:   comps[first].Formula,
			Err:       fmt.Errorf("%w: %s", ErrFormulaCycle, strings.Join(cyclic, ", ")),
		}
	}
	return order, nil
}
