package federation

import (
	"sort"
	"time"

	"github.com/mcpgateway/gateway/internal/domain"
)

// merge pools every tool, resource and prompt entry across the contributing
// schemas and resolves name collisions. A name with a single contributor
// passes through unchanged. A name claimed by two or more namespaces is
// renamed for every contributor, including the first, to
// "{namespace}:{name}", and exactly one conflict record is appended naming
// all contributors. The same rule applies independently to each kind.
func merge(schemas []*domain.ServerSchema) *domain.FederatedSchema {
	fed := &domain.FederatedSchema{
		Tools:       []domain.ToolDef{},
		Resources:   []domain.ResourceDef{},
		Prompts:     []domain.PromptDef{},
		Conflicts:   []domain.SchemaConflict{},
		ServerCount: len(schemas),
		GeneratedAt: time.Now().UTC(),
	}

	var tools []domain.ToolDef
	var resources []domain.ResourceDef
	var prompts []domain.PromptDef
	capSet := map[string]bool{}
	nsSet := map[string]bool{}

	for _, s := range schemas {
		tools = append(tools, s.Tools...)
		resources = append(resources, s.Resources...)
		prompts = append(prompts, s.Prompts...)
		for _, c := range s.Capabilities {
			capSet[c] = true
		}
		nsSet[s.Namespace] = true
	}

	fed.Tools = mergeKind(tools, "tool", &fed.Conflicts,
		func(t domain.ToolDef) string { return t.Name },
		func(t domain.ToolDef) string { return t.Namespace },
		func(t domain.ToolDef, name string) domain.ToolDef { t.Name = name; return t },
	)
	fed.Resources = mergeKind(resources, "resource", &fed.Conflicts,
		func(r domain.ResourceDef) string { return r.Name },
		func(r domain.ResourceDef) string { return r.Namespace },
		func(r domain.ResourceDef, name string) domain.ResourceDef { r.Name = name; return r },
	)
	fed.Prompts = mergeKind(prompts, "prompt", &fed.Conflicts,
		func(p domain.PromptDef) string { return p.Name },
		func(p domain.PromptDef) string { return p.Namespace },
		func(p domain.PromptDef, name string) domain.PromptDef { p.Name = name; return p },
	)

	fed.Capabilities = sortedKeys(capSet)
	fed.Namespaces = sortedKeys(nsSet)

	return fed
}

// mergeKind applies the conflict rule to one kind of definition. Output
// preserves first-seen name order across contributors.
func mergeKind[T any](
	items []T,
	kind string,
	conflicts *[]domain.SchemaConflict,
	name func(T) string,
	namespace func(T) string,
	rename func(T, string) T,
) []T {
	groups := make(map[string][]T, len(items))
	var order []string
	for _, item := range items {
		n := name(item)
		if _, seen := groups[n]; !seen {
			order = append(order, n)
		}
		groups[n] = append(groups[n], item)
	}

	out := make([]T, 0, len(items))
	for _, n := range order {
		// A malformed server may list the same name twice; only the first
		// entry per namespace counts, and a conflict needs two or more
		// distinct namespaces.
		seen := make(map[string]bool, len(groups[n]))
		var group []T
		for _, item := range groups[n] {
			ns := namespace(item)
			if seen[ns] {
				continue
			}
			seen[ns] = true
			group = append(group, item)
		}

		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		namespaces := make([]string, 0, len(group))
		for _, item := range group {
			namespaces = append(namespaces, namespace(item))
			out = append(out, rename(item, namespace(item)+":"+n))
		}

		*conflicts = append(*conflicts, domain.SchemaConflict{
			Kind:       kind,
			Name:       n,
			Namespaces: namespaces,
			Resolution: "namespace",
		})
	}

	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
