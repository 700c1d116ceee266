package catalog

import (
	"sort"
	"strings"
)

// writePrefixes mark a tool as write-shaped for cache-invalidation purposes.
var writePrefixes = []string{"create_", "update_", "delete_", "void_", "send_"}

// invalidationMap names the cached report families a write makes stale. The
// values are matched as substrings against cache category tags.
var invalidationMap = map[string][]string{
	"create_invoice":  {"invoices", "aging_reports", "financial_reports"},
	"update_invoice":  {"invoices", "aging_reports", "financial_reports"},
	"delete_invoice":  {"invoices", "aging_reports", "financial_reports"},
	"send_invoice":    {"invoices"},
	"create_customer": {"customers"},
	"update_customer": {"customers", "invoices"},
	"create_bill":     {"bills", "aging_reports", "financial_reports"},
	"update_bill":     {"bills", "aging_reports", "financial_reports"},
	"delete_bill":     {"bills", "aging_reports", "financial_reports"},
	"create_vendor":   {"vendors"},
	"update_vendor":   {"vendors", "bills"},
	"create_payment":  {"payments", "invoices", "aging_reports", "financial_reports"},
	"delete_payment":  {"payments", "invoices", "aging_reports", "financial_reports"},
	"create_expense":  {"expenses", "financial_reports", "tax"},
	"delete_expense":  {"expenses", "financial_reports", "tax"},
}

// IsWriteTool reports whether the tool name carries a write-shaped prefix.
func IsWriteTool(name string) bool {
	for _, p := range writePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// InvalidationTargets maps the write-shaped tools among toolsUsed to the set
// of cache tags that must be treated as stale. ok=false means a write tool
// was not in the static table and the caller must invalidate everything
// rather than risk a stale read. Pure function of static config: calling it
// twice with the same input yields the same sorted target set.
func InvalidationTargets(toolsUsed []string) (targets []string, ok bool) {
	seen := make(map[string]bool)
	for _, tool := range toolsUsed {
		if !IsWriteTool(tool) {
			continue
		}
		mapped, known := invalidationMap[tool]
		if !known {
			return nil, false
		}
		for _, t := range mapped {
			seen[t] = true
		}
	}

	targets = make([]string, 0, len(seen))
	for t := range seen {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, true
}
