// Package template substitutes named placeholders into subject/body patterns
// and resolves the variable set for one (role, invoice, client) tuple.
package template

import (
	"strconv"
	"strings"

	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/money"
)

// Rendered is the substituted subject/body pair.
type Rendered struct {
	Subject string
	Body    string
}

// The fixed variable vocabulary. Resolvers only ever emit these names.
var Vocabulary = []string{
	"clientName", "invoiceName", "invoiceAmount",
	"month", "year", "monthYear", "dueDate", "downloadLink",
}

var monthNames = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// MonthName returns the English month name for 1..12, empty otherwise.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// Render substitutes {{name}} tokens globally and non-recursively. A missing
// variable substitutes the empty string; Render never fails.
func Render(tpl models.EmailTemplate, vars map[string]string) Rendered {
	return Rendered{
		Subject: Substitute(tpl.Subject, vars),
		Body:    Substitute(tpl.Body, vars),
	}
}

// Substitute replaces every known {{token}} in s. Tokens are scanned from the
// source text only, so substituted values are never re-expanded.
func Substitute(s string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start
		b.WriteString(s[:start])
		name := strings.TrimSpace(s[start+2 : end])
		b.WriteString(vars[name]) // absent key yields ""
		s = s[end+2:]
	}
}

// ResolveVariables builds the typed variable map for one dispatch. The
// invoiceAmount rule is role-dependent: accountant dispatches of GBP invoices
// use the manually confirmed reporting amount, always formatted as EUR.
// downloadLink stays empty; attachments are sent instead of links.
func ResolveVariables(role string, inv models.Invoice, client models.Client) map[string]string {
	amount := money.Format(inv.Amount, inv.Currency)
	if role == models.RoleAccountant && strings.EqualFold(inv.Currency, money.GBP) && inv.AmountInReportingCurrency != nil {
		amount = money.Format(*inv.AmountInReportingCurrency, money.EUR)
	}
	monthYear := ""
	if name := MonthName(inv.Month); name != "" {
		monthYear = name + " " + strconv.Itoa(inv.Year)
	}
	return map[string]string{
		"clientName":    client.Name,
		"invoiceName":   invoiceName(inv),
		"invoiceAmount": amount,
		"month":         strconv.Itoa(inv.Month),
		"year":          strconv.Itoa(inv.Year),
		"monthYear":     monthYear,
		"dueDate":       inv.CreatedAt.AddDate(0, 1, 0).Format("02.01.2006"),
		"downloadLink":  "",
	}
}

// invoiceName is the display number of the invoice.
func invoiceName(inv models.Invoice) string {
	return "INV-" + strconv.FormatUint(uint64(inv.ID), 10)
}

// InvoiceName exposes the display number for callers outside the renderer
// (document composition, attachment filenames).
func InvoiceName(inv models.Invoice) string { return invoiceName(inv) }
