package catalog

import (
	"strings"

	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

// dynamicScoreThreshold is the minimum word-overlap score at which a live
// tool absent from the static config is still admitted.
const dynamicScoreThreshold = 2

// Selection strategies, in merge order.
const (
	StrategyStaticMatch   = "static_match"
	StrategyDefaultBundle = "default_bundle"
	StrategyFullCatalog   = "full_catalog"
)

// LiveTool is a tool advertised by the remote server at connect time.
type LiveTool struct {
	Name        string
	Description string
}

// Selection is the outcome of tool selection for one turn.
type Selection struct {
	Tools      []string
	Categories []string
	Strategy   string
}

// SelectTools maps a query to a bounded tool subset. The merge is explicitly
// tiered: static keyword matches, then the mode default bundle, then
// adjacency expansion, then live-catalog filtering with a dynamic scorer,
// then a catalog-wide safety net so a non-empty live catalog never yields an
// empty selection.
func SelectTools(query string, mode domain.RoutePath, live []LiveTool) Selection {
	q := strings.ToLower(query)

	var matched []string
	for _, cat := range Categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(q, kw) {
				matched = append(matched, cat.Name)
				break
			}
		}
	}

	strategy := StrategyStaticMatch
	if len(matched) == 0 {
		matched = append(matched, defaultBundles[mode]...)
		strategy = StrategyDefaultBundle
	}

	matched = expandAdjacent(matched)

	// Resolve category tool lists, preserving category order.
	seen := make(map[string]bool)
	var tools []string
	for _, name := range matched {
		cat := byName(name)
		if cat == nil {
			continue
		}
		for _, t := range cat.Tools {
			if !seen[t] {
				seen[t] = true
				tools = append(tools, t)
			}
		}
	}

	if live != nil {
		tools = filterToLive(tools, live)
		tools = admitScoredLive(tools, matched, live)
		if len(tools) == 0 && len(live) > 0 {
			tools = tools[:0]
			for _, lt := range live {
				tools = append(tools, lt.Name)
			}
			strategy = StrategyFullCatalog
		}
	}

	return Selection{Tools: tools, Categories: matched, Strategy: strategy}
}

// expandAdjacent appends adjacency-table neighbours of every matched
// category, deduplicated, original order first.
func expandAdjacent(matched []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(matched))
	for _, m := range matched {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range matched {
		for _, adj := range adjacency[m] {
			if !seen[adj] {
				seen[adj] = true
				out = append(out, adj)
			}
		}
	}
	return out
}

// filterToLive drops statically-resolved names the server does not actually
// advertise this session.
func filterToLive(tools []string, live []LiveTool) []string {
	advertised := make(map[string]bool, len(live))
	for _, lt := range live {
		advertised[lt.Name] = true
	}
	out := tools[:0]
	for _, t := range tools {
		if advertised[t] {
			out = append(out, t)
		}
	}
	return out
}

// admitScoredLive additionally admits live tools whose name or description
// textually overlaps the matched categories' keywords and description words.
// This lets newly added remote tools surface without a config change.
func admitScoredLive(tools []string, matched []string, live []LiveTool) []string {
	vocab := make(map[string]bool)
	for _, name := range matched {
		cat := byName(name)
		if cat == nil {
			continue
		}
		for _, kw := range cat.Keywords {
			for _, w := range strings.Fields(kw) {
				vocab[w] = true
			}
		}
		for _, w := range strings.Fields(strings.ToLower(cat.Description)) {
			vocab[w] = true
		}
	}

	included := make(map[string]bool, len(tools))
	for _, t := range tools {
		included[t] = true
	}

	for _, lt := range live {
		if included[lt.Name] {
			continue
		}
		score := 0
		for _, w := range strings.Split(strings.ToLower(lt.Name), "_") {
			if vocab[w] {
				score++
			}
		}
		for _, w := range strings.Fields(strings.ToLower(lt.Description)) {
			if vocab[w] {
				score++
			}
		}
		if score >= dynamicScoreThreshold {
			included[lt.Name] = true
			tools = append(tools, lt.Name)
		}
	}
	return tools
}
