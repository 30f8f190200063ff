// Package document lays out and numerically computes the invoice PDF.
// Compose is a pure function of its inputs; it performs no I/O.
package document

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/iorran/superfriday/internal/money"
)

// IssuerProfile holds the issuing freelancer's fixed document fields.
// All of them are required; composition fails rather than printing blanks.
type IssuerProfile struct {
	CompanyName   string
	Address       string
	VATID         string
	BankAccount   string
	IBAN          string
	AccountHolder string
	VATPercentage float64
}

// ExpenseLine is one billable extra shown under the service charge.
type ExpenseLine struct {
	Description string
	Amount      float64
}

// InvoiceData is everything the document shows about one invoice.
type InvoiceData struct {
	Number        string
	Date          time.Time
	ClientName    string
	ClientAddress string
	Currency      string
	DailyRate     float64
	NumberOfDays  float64
	Expenses      []ExpenseLine
	PeriodLabel   string
}

// Totals are the derived amounts shown in the totals block. GrossInvoice is
// always computed from the net and the VAT rate, never read from storage, so
// the document can never disagree with its displayed VAT percentage.
type Totals struct {
	NetServiceCharge float64
	NetInvoice       float64
	VATAmount        float64
	GrossInvoice     float64
}

// ComputeTotals derives the full totals block from rate, days, and expenses.
func ComputeTotals(data InvoiceData, vatPercentage float64) Totals {
	t := Totals{}
	t.NetServiceCharge = data.DailyRate * data.NumberOfDays
	t.NetInvoice = t.NetServiceCharge
	for _, e := range data.Expenses {
		t.NetInvoice += e.Amount
	}
	t.VATAmount = t.NetInvoice * vatPercentage / 100
	t.GrossInvoice = t.NetInvoice * (1 + vatPercentage/100)
	return t
}

// IncompleteIssuerProfileError names the first missing issuer field.
type IncompleteIssuerProfileError struct {
	Field string
}

func (e *IncompleteIssuerProfileError) Error() string {
	return fmt.Sprintf("incomplete issuer profile: missing %s", e.Field)
}

func validateIssuer(issuer IssuerProfile) error {
	required := []struct {
		field, value string
	}{
		{"companyName", issuer.CompanyName},
		{"address", issuer.Address},
		{"vat", issuer.VATID},
		{"bankAccount", issuer.BankAccount},
		{"iban", issuer.IBAN},
		{"bankAccountName", issuer.AccountHolder},
	}
	for _, r := range required {
		if r.value == "" {
			return &IncompleteIssuerProfileError{Field: r.field}
		}
	}
	return nil
}

// Compose renders the invoice into PDF bytes. Section order is fixed:
// issuer header, title, recipient block, metadata bar, service/expense/total
// block. Emphasis is reserved for labels and totals.
func Compose(data InvoiceData, issuer IssuerProfile) ([]byte, error) {
	if err := validateIssuer(issuer); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()
	m := maroto.New(cfg)

	cur := data.Currency
	totals := ComputeTotals(data, issuer.VATPercentage)

	// Issuer header
	m.AddRow(7, text.NewCol(12, issuer.CompanyName, props.Text{Style: fontstyle.Bold, Size: 12}))
	m.AddRow(5, text.NewCol(12, issuer.Address, props.Text{Size: 9}))
	m.AddRow(5, text.NewCol(12, "VAT: "+issuer.VATID, props.Text{Size: 9}))
	m.AddRow(4, line.NewCol(12))

	// Title
	m.AddRow(12, text.NewCol(12, "INVOICE "+data.Number, props.Text{
		Style: fontstyle.Bold, Size: 16, Align: align.Center,
	}))

	// Recipient block
	m.AddRow(6, text.NewCol(12, "Invoice to:", props.Text{Style: fontstyle.Italic, Size: 9}))
	m.AddRow(6, text.NewCol(12, data.ClientName, props.Text{Style: fontstyle.Bold, Size: 10}))
	if data.ClientAddress != "" {
		m.AddRow(5, text.NewCol(12, data.ClientAddress, props.Text{Size: 9}))
	}

	// Metadata bar
	m.AddRow(8,
		text.NewCol(4, "Date: "+data.Date.Format("02.01.2006"), props.Text{Size: 9}),
		text.NewCol(4, "Period: "+data.PeriodLabel, props.Text{Size: 9, Align: align.Center}),
		text.NewCol(4, "Invoice no: "+data.Number, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(4, line.NewCol(12))

	// Service charge
	m.AddRow(7,
		text.NewCol(8, fmt.Sprintf("Professional services (%s days at %s/day)",
			money.FormatNumber(data.NumberOfDays), money.Format(data.DailyRate, cur)),
			props.Text{Size: 9}),
		text.NewCol(4, money.Format(totals.NetServiceCharge, cur), props.Text{Size: 9, Align: align.Right}),
	)

	// Expenses
	for _, e := range data.Expenses {
		m.AddRow(6,
			text.NewCol(8, e.Description, props.Text{Size: 9}),
			text.NewCol(4, money.Format(e.Amount, cur), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(3, line.NewCol(12))

	// Totals block
	m.AddRows(
		totalRow("Net invoice", money.Format(totals.NetInvoice, cur), false),
		totalRow(fmt.Sprintf("VAT %s%%", money.FormatNumber(issuer.VATPercentage)),
			money.Format(totals.VATAmount, cur), false),
		totalRow("Gross invoice", money.Format(totals.GrossInvoice, cur), true),
	)
	m.AddRow(4, line.NewCol(12))

	// Payment details
	m.AddRow(6, text.NewCol(12, "Payment details", props.Text{Style: fontstyle.Bold, Size: 9}))
	m.AddRow(5, text.NewCol(12, "Account holder: "+issuer.AccountHolder, props.Text{Size: 9}))
	m.AddRow(5, text.NewCol(12, "Account: "+issuer.BankAccount, props.Text{Size: 9}))
	m.AddRow(5, text.NewCol(12, "IBAN: "+issuer.IBAN, props.Text{Size: 9}))

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate invoice pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func totalRow(label, amount string, emphasize bool) core.Row {
	style := fontstyle.Normal
	size := 9.0
	if emphasize {
		style = fontstyle.Bold
		size = 10
	}
	return row.New(6).Add(
		text.NewCol(8, label, props.Text{Style: style, Size: size, Align: align.Right}),
		text.NewCol(4, amount, props.Text{Style: style, Size: size, Align: align.Right}),
	)
}
