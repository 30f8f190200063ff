package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMicrosoftStaticPrecheck(t *testing.T) {
	tr := &SMTPTransport{
		Host:     "smtp.office365.com",
		Port:     587,
		Username: "me@outlook.com",
		Password: "static-password",
		Provider: ProviderMicrosoft,
	}
	err := tr.Verify(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError before any dial, got %v", err)
	}
	if !strings.Contains(authErr.Hint, "OAuth2") {
		t.Fatalf("hint must name OAuth2, got %q", authErr.Hint)
	}
	// Send must refuse the same way
	if err := tr.Send(context.Background(), Message{To: "x@y"}); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError from Send, got %v", err)
	}
}

func TestNeedsStartTLS(t *testing.T) {
	for _, c := range []struct {
		provider Provider
		port     int
		want     bool
	}{
		{ProviderMicrosoft, 587, true},
		{ProviderGmail, 587, true},
		{ProviderGeneric, 587, false},
		{ProviderGmail, 465, false},
	} {
		tr := &SMTPTransport{Provider: c.provider, Port: c.port}
		if got := tr.needsStartTLS(); got != c.want {
			t.Fatalf("%s:%d needsStartTLS = %v, want %v", c.provider, c.port, got, c.want)
		}
	}
}

func TestWriteMIMEPlain(t *testing.T) {
	var b strings.Builder
	msg := Message{To: "to@example.com", CC: []string{"cc@example.com"}, Subject: "Invoice INV-1", Body: "hello"}
	if err := writeMIME(&b, "from@example.com", msg); err != nil {
		t.Fatalf("writeMIME: %v", err)
	}
	out := b.String()
	for _, want := range []string{
		"From: from@example.com\r\n",
		"To: to@example.com\r\n",
		"Cc: cc@example.com\r\n",
		"Subject: Invoice INV-1\r\n",
		"hello\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "multipart/mixed") {
		t.Fatalf("plain message should not be multipart")
	}
}

func TestWriteMIMEAttachments(t *testing.T) {
	var b strings.Builder
	msg := Message{
		To:      "to@example.com",
		Subject: "s",
		Body:    "body",
		Attachments: []Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("%PDF-fake")},
			{Filename: "timesheet.pdf", Data: []byte("x")},
		},
	}
	if err := writeMIME(&b, "from@example.com", msg); err != nil {
		t.Fatalf("writeMIME: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "multipart/mixed") {
		t.Fatalf("expected multipart message:\n%s", out)
	}
	if !strings.Contains(out, `filename="invoice.pdf"`) || !strings.Contains(out, `filename="timesheet.pdf"`) {
		t.Fatalf("missing attachment headers:\n%s", out)
	}
	// missing content type falls back to octet-stream
	if !strings.Contains(out, "application/octet-stream") {
		t.Fatalf("expected octet-stream fallback:\n%s", out)
	}
	if strings.Count(out, "Content-Transfer-Encoding: base64") != 2 {
		t.Fatalf("each attachment must be base64 encoded:\n%s", out)
	}
}

func TestAuthReplyClassification(t *testing.T) {
	for _, msg := range []string{
		"535 5.7.8 Username and Password not accepted",
		"534 5.7.9 Application-specific password required",
		"530 5.7.0 Authentication Required",
	} {
		if !isSMTPAuthReply(errors.New(msg)) {
			t.Fatalf("%q should classify as auth", msg)
		}
	}
	if isSMTPAuthReply(errors.New("421 service not available")) {
		t.Fatalf("transient reply misclassified as auth")
	}
	if isSMTPAuthReply(nil) {
		t.Fatalf("nil is not an auth error")
	}
}
