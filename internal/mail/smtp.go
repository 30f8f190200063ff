package mail

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SMTPTransport talks to one SMTP endpoint with either static credentials or
// OAuth2, applying the provider's TLS policy.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	From     string
	Provider Provider

	// static auth
	Password string

	// OAuth2 auth; used whenever OAuth is non-nil
	OAuth *OAuthCredentials
}

func (t *SMTPTransport) addr() string { return fmt.Sprintf("%s:%d", t.Host, t.Port) }

// needsStartTLS reports whether STARTTLS is mandatory on this connection.
// Port 587 against microsoft or gmail always upgrades, configured or not.
func (t *SMTPTransport) needsStartTLS() bool {
	return t.Port == 587 && (t.Provider == ProviderMicrosoft || t.Provider == ProviderGmail)
}

// precheck rejects configurations that the provider is known to refuse, so
// the caller gets an actionable error before any network traffic.
func (t *SMTPTransport) precheck() error {
	if t.Provider == ProviderMicrosoft && t.OAuth == nil {
		return &AuthError{
			Provider: ProviderMicrosoft,
			Hint:     "this provider requires OAuth2; static passwords are rejected",
		}
	}
	return nil
}

func (t *SMTPTransport) auth(ctx context.Context) (smtp.Auth, error) {
	if t.OAuth != nil {
		tok, err := tokenSource(ctx, t.Provider, *t.OAuth).Token()
		if err != nil {
			return nil, &AuthError{Provider: t.Provider, Hint: "OAuth2 token refresh failed; re-authorize the account", Err: err}
		}
		return &xoauth2Auth{user: t.Username, token: tok.AccessToken}, nil
	}
	return smtp.PlainAuth("", t.Username, t.Password, t.Host), nil
}

// connect dials, upgrades to TLS per policy, and authenticates.
func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, &TransientError{Op: "dial", Err: err}
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	tlsCfg := &tls.Config{ServerName: t.Host}
	if t.Port == 465 {
		// implicit TLS
		conn = tls.Client(conn, tlsCfg)
	}
	client, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return nil, &TransientError{Op: "handshake", Err: err}
	}

	if t.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				client.Close()
				return nil, &TransientError{Op: "starttls", Err: err}
			}
		} else if t.needsStartTLS() {
			client.Close()
			return nil, &TransientError{Op: "starttls", Err: fmt.Errorf("server %s does not offer STARTTLS", t.addr())}
		}
	}

	auth, err := t.auth(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := client.Auth(auth); err != nil {
		client.Close()
		if isSMTPAuthReply(err) || t.OAuth != nil {
			hint := "check the username and password; some providers require an application password"
			if t.OAuth != nil {
				hint = "access token rejected; re-authorize the account"
			}
			return nil, &AuthError{Provider: t.Provider, Hint: hint, Err: err}
		}
		return nil, &TransientError{Op: "auth", Err: err}
	}
	return client, nil
}

// Verify checks that the transport can authenticate without sending anything.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	if err := t.precheck(); err != nil {
		return err
	}
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// Send delivers the message. A send is atomic from the transport's point of
// view; callers bound it with a context deadline and treat expiry as failed.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := t.precheck(); err != nil {
		return err
	}
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	from := msg.From
	if from == "" {
		from = t.From
	}
	if from == "" {
		from = t.Username
	}
	if err := client.Mail(from); err != nil {
		return &TransientError{Op: "mail from", Err: err}
	}
	recipients := append([]string{msg.To}, msg.CC...)
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return &TransientError{Op: "rcpt to", Err: err}
		}
	}
	w, err := client.Data()
	if err != nil {
		return &TransientError{Op: "data", Err: err}
	}
	if err := writeMIME(w, from, msg); err != nil {
		return &TransientError{Op: "write body", Err: err}
	}
	if err := w.Close(); err != nil {
		return &TransientError{Op: "data close", Err: err}
	}
	if err := client.Quit(); err != nil {
		// message already accepted; log and move on
		log.Debug().Err(err).Str("host", t.Host).Msg("smtp quit failed after accepted message")
	}
	return nil
}

// writeMIME writes headers and a multipart/mixed body with base64 attachments.
func writeMIME(w io.Writer, from string, msg Message) error {
	boundary := "mixed-" + uuid.NewString()

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	if len(msg.CC) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.CC, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if len(msg.Attachments) > 0 {
		b.WriteString("Content-Type: multipart/mixed; boundary=\"" + boundary + "\"\r\n\r\n")
		b.WriteString("--" + boundary + "\r\n")
	}
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body + "\r\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		header := "--" + boundary + "\r\n" +
			"Content-Type: " + ct + "; name=\"" + att.Filename + "\"\r\n" +
			"Content-Disposition: attachment; filename=\"" + att.Filename + "\"\r\n" +
			"Content-Transfer-Encoding: base64\r\n\r\n"
		if _, err := io.WriteString(w, header); err != nil {
			return err
		}
		if err := writeBase64Lines(w, att.Data); err != nil {
			return err
		}
	}
	if len(msg.Attachments) > 0 {
		if _, err := io.WriteString(w, "--"+boundary+"--\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// base64 split into 76-char lines per RFC 2045
func writeBase64Lines(w io.Writer, data []byte) error {
	b64 := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(b64); i += 76 {
		end := i + 76
		if end > len(b64) {
			end = len(b64)
		}
		if _, err := io.WriteString(w, b64[i:end]+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}
