package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/iorran/superfriday/internal/config"
	"github.com/iorran/superfriday/internal/mail"
	"github.com/iorran/superfriday/internal/models"
	"github.com/iorran/superfriday/internal/settings"
	"github.com/iorran/superfriday/internal/storage"
)

func setupDispatchDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Client{}, &models.Invoice{}, &models.Expense{}, &models.InvoiceFile{},
		&models.EmailTemplate{}, &models.EmailAccount{}, &models.EmailHistory{}, &models.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// recordingTransport captures sent messages and fails on demand.
type recordingTransport struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (r *recordingTransport) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) Verify(context.Context) error { return r.err }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingTransport) last(t *testing.T) mail.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatalf("no message sent")
	}
	return r.sent[len(r.sent)-1]
}

type staticResolver struct {
	transport mail.Transport
	err       error
}

func (s *staticResolver) Resolve(context.Context, *uint, uint) (mail.Transport, error) {
	return s.transport, s.err
}

type fixture struct {
	db        *gorm.DB
	svc       *DispatchService
	transport *recordingTransport
	blobs     storage.Store
	settings  *settings.Service
	invoice   models.Invoice
	client    models.Client
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	db := setupDispatchDB(t)
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	cfg := config.Config{
		DispatchTimeout:  5 * time.Second,
		AccountantPrereq: config.PrereqPaymentReceived,
	}
	for _, o := range opts {
		o(&cfg)
	}
	transport := &recordingTransport{}
	st := settings.NewService(db)
	svc := NewDispatchService(db, blobs, &staticResolver{transport: transport}, st, cfg)

	client := models.Client{UserID: 1, Name: "ClientCo", Email: "billing@clientco.example", Currency: "EUR"}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	inv := models.Invoice{UserID: 1, ClientID: client.ID, Amount: 1230, Currency: "EUR", Month: 2, Year: 2026}
	if err := db.Create(&inv).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	if err := st.Set(1, settings.KeyAccountantEmail, "acct@example.com"); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return &fixture{db: db, svc: svc, transport: transport, blobs: blobs, settings: st, invoice: inv, client: client}
}

func (f *fixture) seedTemplate(t *testing.T, role string) models.EmailTemplate {
	t.Helper()
	tpl := models.EmailTemplate{
		UserID:  1,
		Role:    role,
		Subject: "Invoice {{invoiceName}}",
		Body:    "Dear {{clientName}}, amount {{invoiceAmount}} for {{monthYear}}.",
	}
	if err := f.db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tpl
}

func (f *fixture) seedFile(t *testing.T, role string) models.InvoiceFile {
	t.Helper()
	key, err := f.blobs.Put("", []byte("%PDF-stub-"+role))
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	file := models.InvoiceFile{InvoiceID: f.invoice.ID, StorageKey: key, Role: role, OriginalName: role + ".pdf"}
	if err := f.db.Create(&file).Error; err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return file
}

func (f *fixture) historyCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.EmailHistory{}).Count(&n).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func (f *fixture) reload(t *testing.T) models.Invoice {
	t.Helper()
	var inv models.Invoice
	if err := f.db.First(&inv, f.invoice.ID).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	return inv
}

func TestDispatchClientSuccess(t *testing.T) {
	f := newFixture(t)
	tpl := f.seedTemplate(t, models.RoleClient)
	f.seedFile(t, models.FileRoleInvoiceDocument)
	f.seedFile(t, models.FileRoleTimesheet)

	out, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Recipient != "billing@clientco.example" {
		t.Fatalf("recipient = %q", out.Recipient)
	}
	if out.Subject != fmt.Sprintf("Invoice INV-%d", f.invoice.ID) {
		t.Fatalf("subject = %q", out.Subject)
	}
	if out.Resent {
		t.Fatalf("first send must not be marked resent")
	}

	msg := f.transport.last(t)
	// the client receives every attachment, timesheet included
	if len(msg.Attachments) != 2 {
		t.Fatalf("expected 2 attachments got %d", len(msg.Attachments))
	}

	inv := f.reload(t)
	if !inv.SentToClient || inv.SentToClientAt == nil {
		t.Fatalf("flag/timestamp not set: %+v", inv)
	}
	var hist models.EmailHistory
	if err := f.db.First(&hist, out.HistoryID).Error; err != nil {
		t.Fatalf("history: %v", err)
	}
	if hist.Status != models.HistoryStatusSent || hist.TemplateID == nil || *hist.TemplateID != tpl.ID {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestDispatchClientNoAttachments(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	var g *GuardError
	if !errors.As(err, &g) || g.Reason != GuardSignedDocumentRequired {
		t.Fatalf("expected signed_document_required got %v", err)
	}
	if f.historyCount(t) != 0 {
		t.Fatalf("guard refusal must append no history")
	}
	if f.transport.count() != 0 {
		t.Fatalf("guard refusal must not send")
	}
}

func TestDispatchTemplateMissing(t *testing.T) {
	f := newFixture(t)
	f.seedFile(t, models.FileRoleInvoiceDocument)

	for _, role := range []string{models.RoleClient, models.RoleAccountant} {
		_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, role, Overrides{})
		var g *GuardError
		if !errors.As(err, &g) || g.Reason != GuardTemplateMissing || g.Role != role {
			t.Fatalf("role %s: expected template_missing got %v", role, err)
		}
	}
	inv := f.reload(t)
	if inv.SentToClient || inv.SentToAccountant {
		t.Fatalf("flags must stay unchanged")
	}
	if f.historyCount(t) != 0 {
		t.Fatalf("guard refusal must append no history")
	}
}

func TestDispatchClientTemplateFallbackPolicy(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.ClientTemplateFallback = true })
	f.seedFile(t, models.FileRoleInvoiceDocument)

	out, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	if err != nil {
		t.Fatalf("fallback dispatch: %v", err)
	}
	var hist models.EmailHistory
	if err := f.db.First(&hist, out.HistoryID).Error; err != nil {
		t.Fatalf("history: %v", err)
	}
	if hist.TemplateID != nil {
		t.Fatalf("fallback send must not reference a stored template")
	}

	// accountant role never falls back even with the policy enabled
	_, err = f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{})
	var g *GuardError
	if !errors.As(err, &g) || g.Reason != GuardTemplateMissing {
		t.Fatalf("expected template_missing for accountant got %v", err)
	}
}

func TestDispatchClientMissingEmail(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)
	f.seedFile(t, models.FileRoleInvoiceDocument)
	if err := f.db.Model(&models.Client{}).Where("id = ?", f.client.ID).Update("email", "").Error; err != nil {
		t.Fatalf("clear email: %v", err)
	}

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	var v *ValidationError
	if !errors.As(err, &v) || v.Field != "client.email" {
		t.Fatalf("expected client.email validation error got %v", err)
	}
	if f.historyCount(t) != 0 {
		t.Fatalf("validation failure must append no history")
	}
}

func TestDispatchAccountantGBPRequiresReportingAmount(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleAccountant)
	if err := f.db.Model(&models.Invoice{}).Where("id = ?", f.invoice.ID).
		Updates(map[string]any{"currency": "GBP", "payment_received": true}).Error; err != nil {
		t.Fatalf("update invoice: %v", err)
	}
	if err := f.settings.Set(1, settings.KeyGBPToEURRate, "1.17"); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{})
	var g *GuardError
	if !errors.As(err, &g) || g.Reason != GuardReportingAmountRequired {
		t.Fatalf("expected reporting_amount_required got %v", err)
	}
	// the provisional rate only seeds the suggestion, never the send
	if g.SuggestedAmount == nil || *g.SuggestedAmount != 1230*1.17 {
		t.Fatalf("suggested amount = %v", g.SuggestedAmount)
	}
	if f.historyCount(t) != 0 || f.transport.count() != 0 {
		t.Fatalf("guard refusal must neither send nor record")
	}

	// a confirmed amount unblocks the dispatch and is used for the message
	amount := 1450.0
	out, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{ReportingAmount: &amount})
	if err != nil {
		t.Fatalf("dispatch with override: %v", err)
	}
	msg := f.transport.last(t)
	if want := "€ 1 450,00"; !strings.Contains(msg.Body, want) {
		t.Fatalf("body should carry the EUR reporting amount %q:\n%s", want, msg.Body)
	}
	inv := f.reload(t)
	if inv.AmountInReportingCurrency == nil || *inv.AmountInReportingCurrency != amount {
		t.Fatalf("confirmed amount must persist, got %v", inv.AmountInReportingCurrency)
	}
	if out.Recipient != "acct@example.com" {
		t.Fatalf("recipient = %q", out.Recipient)
	}
}

func TestDispatchAccountantPrerequisitePayment(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleAccountant)

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{})
	var g *GuardError
	if !errors.As(err, &g) || g.Reason != GuardPrerequisiteNotMet {
		t.Fatalf("expected prerequisite_not_met got %v", err)
	}

	if err := f.db.Model(&models.Invoice{}).Where("id = ?", f.invoice.ID).Update("payment_received", true).Error; err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if _, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{}); err != nil {
		t.Fatalf("dispatch after payment: %v", err)
	}
}

func TestDispatchAccountantPrerequisiteSentToClient(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.AccountantPrereq = config.PrereqSentToClient })
	f.seedTemplate(t, models.RoleAccountant)

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{})
	var g *GuardError
	if !errors.As(err, &g) || g.Reason != GuardPrerequisiteNotMet {
		t.Fatalf("expected prerequisite_not_met got %v", err)
	}

	if err := f.db.Model(&models.Invoice{}).Where("id = ?", f.invoice.ID).Update("sent_to_client", true).Error; err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if _, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{}); err != nil {
		t.Fatalf("dispatch after client send: %v", err)
	}
}

func TestDispatchAccountantAttachmentFilter(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleAccountant)
	f.seedFile(t, models.FileRoleInvoiceDocument)
	f.seedFile(t, models.FileRoleTimesheet)
	if err := f.db.Model(&models.Invoice{}).Where("id = ?", f.invoice.ID).Update("payment_received", true).Error; err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if _, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleAccountant, Overrides{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msg := f.transport.last(t)
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "invoiceDocument.pdf" {
		t.Fatalf("accountant must only receive invoice documents, got %+v", msg.Attachments)
	}
}

func TestDispatchSendFailureRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)
	f.seedFile(t, models.FileRoleInvoiceDocument)
	f.transport.err = &mail.TransientError{Op: "dial", Err: errors.New("connection refused")}

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	var transient *mail.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient error got %v", err)
	}
	inv := f.reload(t)
	if inv.SentToClient {
		t.Fatalf("flags must stay unchanged on failure")
	}
	var hist models.EmailHistory
	if err := f.db.Where("invoice_id = ?", f.invoice.ID).First(&hist).Error; err != nil {
		t.Fatalf("failed attempt must be recorded: %v", err)
	}
	if hist.Status != models.HistoryStatusFailed || hist.ErrorMessage == "" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestDispatchMissingAttachmentBlobAborts(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)
	file := f.seedFile(t, models.FileRoleInvoiceDocument)
	if err := f.blobs.Delete(file.StorageKey); err != nil {
		t.Fatalf("delete blob: %v", err)
	}

	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected blob not found, got %v", err)
	}
	if f.transport.count() != 0 {
		t.Fatalf("partial-attachment send must never happen")
	}
}

func TestDispatchResendKeepsFirstTimestamp(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)
	f.seedFile(t, models.FileRoleInvoiceDocument)

	if _, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	first := f.reload(t).SentToClientAt
	if first == nil {
		t.Fatalf("timestamp not set")
	}

	time.Sleep(10 * time.Millisecond)
	out, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !out.Resent {
		t.Fatalf("second send should report resent")
	}
	if got := f.reload(t).SentToClientAt; !got.Equal(*first) {
		t.Fatalf("resend must not rewrite the first timestamp: %v vs %v", got, first)
	}
	if f.historyCount(t) != 2 {
		t.Fatalf("each send appends its own history row")
	}
}

func TestDispatchConcurrentFirstSends(t *testing.T) {
	f := newFixture(t)
	f.seedTemplate(t, models.RoleClient)
	f.seedFile(t, models.FileRoleInvoiceDocument)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, models.RoleClient, Overrides{})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if f.transport.count() != 2 {
		t.Fatalf("both sends should go out, got %d", f.transport.count())
	}
	if f.historyCount(t) != 2 {
		t.Fatalf("expected 2 history rows got %d", f.historyCount(t))
	}
	inv := f.reload(t)
	if !inv.SentToClient || inv.SentToClientAt == nil {
		t.Fatalf("flag must be set exactly once: %+v", inv)
	}
}

func TestDispatchUnknownInvoice(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RequestDispatch(context.Background(), 1, 9999, models.RoleClient, Overrides{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	// tenant scoping: another user cannot dispatch this invoice
	if _, err := f.svc.RequestDispatch(context.Background(), 2, f.invoice.ID, models.RoleClient, Overrides{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant got %v", err)
	}
}

func TestDispatchInvalidRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestDispatch(context.Background(), 1, f.invoice.ID, "operator", Overrides{})
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected validation error got %v", err)
	}
}

