package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeruLocal/hellocfo-sub002/internal/catalog"
	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
)

func liveCatalog(names ...string) []catalog.LiveTool {
	live := make([]catalog.LiveTool, 0, len(names))
	for _, n := range names {
		live = append(live, catalog.LiveTool{Name: n})
	}
	return live
}

func TestSelectToolsStaticMatch(t *testing.T) {
	live := liveCatalog(
		"create_invoice", "list_invoices", "get_invoice",
		"list_customers", "get_customer",
		"aged_receivables_report", "aged_payables_report",
		"profit_and_loss_report",
	)

	sel := catalog.SelectTools("show me unpaid invoices", domain.PathCFO, live)

	assert.Equal(t, catalog.StrategyStaticMatch, sel.Strategy)
	// "invoices" and "aging_reports" match directly; adjacency pulls in
	// customers for name resolution.
	assert.Contains(t, sel.Categories, "invoices")
	assert.Contains(t, sel.Categories, "aging_reports")
	assert.Contains(t, sel.Categories, "customers")
	assert.Contains(t, sel.Tools, "list_invoices")
	assert.Contains(t, sel.Tools, "aged_receivables_report")
	// Nothing the server does not advertise.
	for _, tool := range sel.Tools {
		found := false
		for _, lt := range live {
			if lt.Name == tool {
				found = true
			}
		}
		assert.True(t, found, "tool %s not advertised by server", tool)
	}
}

func TestSelectToolsDefaultBundle(t *testing.T) {
	live := liveCatalog("profit_and_loss_report", "list_invoices", "list_accounts", "aged_receivables_report")

	sel := catalog.SelectTools("how are things going this month", domain.PathCFO, live)

	assert.Equal(t, catalog.StrategyDefaultBundle, sel.Strategy)
	assert.Contains(t, sel.Tools, "profit_and_loss_report")
	assert.Contains(t, sel.Tools, "aged_receivables_report")
}

func TestSelectToolsFullCatalogSafetyNet(t *testing.T) {
	// Live catalog shares no names with the static config, so the tiered
	// merge comes up empty and the whole catalog is offered instead.
	live := liveCatalog("obscure_tool_one", "obscure_tool_two")

	sel := catalog.SelectTools("show me unpaid invoices", domain.PathCFO, live)

	assert.Equal(t, catalog.StrategyFullCatalog, sel.Strategy)
	assert.ElementsMatch(t, []string{"obscure_tool_one", "obscure_tool_two"}, sel.Tools)
}

func TestSelectToolsAdmitsScoredLiveTool(t *testing.T) {
	// A server-side tool unknown to the static config is admitted when its
	// name overlaps the matched categories' vocabulary.
	live := liveCatalog("list_invoices", "invoice_aging_breakdown")

	sel := catalog.SelectTools("show me unpaid invoices", domain.PathCFO, live)

	assert.Contains(t, sel.Tools, "list_invoices")
	assert.Contains(t, sel.Tools, "invoice_aging_breakdown")
}

func TestSelectToolsNilLiveKeepsStaticResolution(t *testing.T) {
	sel := catalog.SelectTools("list my vendors", domain.PathCFO, nil)
	assert.Contains(t, sel.Tools, "list_vendors")
}

func TestIsWriteTool(t *testing.T) {
	assert.True(t, catalog.IsWriteTool("create_invoice"))
	assert.True(t, catalog.IsWriteTool("void_invoice"))
	assert.True(t, catalog.IsWriteTool("send_invoice"))
	assert.False(t, catalog.IsWriteTool("list_invoices"))
	assert.False(t, catalog.IsWriteTool("get_customer"))
}

func TestInvalidationTargets(t *testing.T) {
	t.Run("read-only turn yields nothing", func(t *testing.T) {
		targets, ok := catalog.InvalidationTargets([]string{"list_invoices", "get_customer"})
		assert.True(t, ok)
		assert.Empty(t, targets)
	})

	t.Run("payment invalidates downstream reports", func(t *testing.T) {
		targets, ok := catalog.InvalidationTargets([]string{"create_payment"})
		assert.True(t, ok)
		assert.Equal(t, []string{"aging_reports", "financial_reports", "invoices", "payments"}, targets)
	})

	t.Run("unknown write tool forces full invalidation", func(t *testing.T) {
		targets, ok := catalog.InvalidationTargets([]string{"create_mystery_record"})
		assert.False(t, ok)
		assert.Nil(t, targets)
	})

	t.Run("idempotent for the same input", func(t *testing.T) {
		a, okA := catalog.InvalidationTargets([]string{"create_invoice", "create_payment"})
		b, okB := catalog.InvalidationTargets([]string{"create_invoice", "create_payment"})
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	})
}
