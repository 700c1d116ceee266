// Package catalog owns the static tool configuration: categories tying
// free-text intent to concrete tool names, the adjacency table used to widen
// a match with referential context, and the cache-invalidation map for
// write-shaped tools. All tables are process-wide constants.
package catalog

import "github.com/MeruLocal/hellocfo-sub002/internal/domain"

// Category groups the tools for one accounting concern with the keywords
// that trigger it.
type Category struct {
	Name        string
	Description string
	Tools       []string
	Keywords    []string
}

// Categories is the single source of truth tying query intent to tool names.
var Categories = []Category{
	{
		Name:        "invoices",
		Description: "Create, update, send and query sales invoices",
		Tools: []string{
			"create_invoice", "update_invoice", "delete_invoice",
			"send_invoice", "get_invoice", "list_invoices",
		},
		Keywords: []string{"invoice", "invoices", "billing", "bill a customer"},
	},
	{
		Name:        "customers",
		Description: "Manage customers and their balances",
		Tools: []string{
			"create_customer", "update_customer", "get_customer", "list_customers",
		},
		Keywords: []string{"customer", "customers", "client", "clients"},
	},
	{
		Name:        "bills",
		Description: "Record and query supplier bills",
		Tools: []string{
			"create_bill", "update_bill", "delete_bill", "get_bill", "list_bills",
		},
		Keywords: []string{"bill", "bills", "payable"},
	},
	{
		Name:        "vendors",
		Description: "Manage vendors and suppliers",
		Tools: []string{
			"create_vendor", "update_vendor", "get_vendor", "list_vendors",
		},
		Keywords: []string{"vendor", "vendors", "supplier", "suppliers"},
	},
	{
		Name:        "payments",
		Description: "Record and query customer payments",
		Tools: []string{
			"create_payment", "delete_payment", "get_payment", "list_payments",
		},
		Keywords: []string{"payment", "payments", "paid", "receive money", "deposit"},
	},
	{
		Name:        "expenses",
		Description: "Record and query expenses and purchases",
		Tools: []string{
			"create_expense", "delete_expense", "get_expense", "list_expenses",
		},
		Keywords: []string{"expense", "expenses", "purchase", "spent", "spending"},
	},
	{
		Name:        "aging_reports",
		Description: "Receivables and payables aging",
		Tools: []string{
			"aged_receivables_report", "aged_payables_report",
		},
		Keywords: []string{"aging", "overdue", "unpaid", "outstanding", "owed"},
	},
	{
		Name:        "financial_reports",
		Description: "Profit and loss, balance sheet and cash flow reports",
		Tools: []string{
			"profit_and_loss_report", "balance_sheet_report", "cash_flow_report",
		},
		Keywords: []string{
			"report", "profit", "loss", "balance sheet", "cash flow",
			"revenue", "income", "summary", "financials",
		},
	},
	{
		Name:        "tax",
		Description: "Tax summaries and rates",
		Tools: []string{
			"tax_summary_report", "list_tax_rates",
		},
		Keywords: []string{"tax", "taxes", "gst", "vat", "sales tax"},
	},
	{
		Name:        "accounts",
		Description: "Chart of accounts and ledger queries",
		Tools: []string{
			"list_accounts", "get_account", "list_journal_entries",
		},
		Keywords: []string{"account", "accounts", "ledger", "journal", "chart of accounts"},
	},
}

// adjacency widens a category match with the categories the model needs for
// referential context (resolving names, cross-checking balances).
var adjacency = map[string][]string{
	"invoices":      {"customers", "aging_reports"},
	"bills":         {"vendors"},
	"payments":      {"invoices", "customers"},
	"expenses":      {"vendors"},
	"aging_reports": {"customers"},
	"tax":           {"financial_reports"},
}

// defaultBundles are the mode-specific fallbacks when no category keyword
// matches: the common write surface for the bookkeeper path and the common
// read surface for the cfo path.
var defaultBundles = map[domain.RoutePath][]string{
	domain.PathBookkeeper: {"invoices", "customers", "bills", "vendors", "payments", "expenses"},
	domain.PathCFO:        {"financial_reports", "aging_reports", "invoices", "accounts"},
}

// byName returns the category with the given name, or nil.
func byName(name string) *Category {
	for i := range Categories {
		if Categories[i].Name == name {
			return &Categories[i]
		}
	}
	return nil
}
