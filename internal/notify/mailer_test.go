package notify

import (
	"bytes"
	"mime"
	"net/mail"
	"strings"
	"testing"

	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

func render(t *testing.T, msg Message) *mail.Message {
	t.Helper()
	m := &SMTPMailer{from: "no-reply@example.com", logger: observability.NewDiscardLogger()}
	out, err := m.message(msg)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	parsed, err := mail.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v\n%s", err, buf.String())
	}
	return parsed
}

func TestMessage_NonASCIISubjectIsEncoded(t *testing.T) {
	parsed := render(t, Message{To: "ada@example.com", Subject: "Payment confirmation Amélie booked!", HTML: "<p>hi</p>"})

	raw := parsed.Header.Get("Subject")
	if strings.Contains(raw, "é") {
		t.Fatalf("subject header carries raw UTF-8: %q", raw)
	}
	if !strings.Contains(strings.ToUpper(raw), "=?UTF-8?") {
		t.Fatalf("subject header is not an encoded word: %q", raw)
	}
	got, err := new(mime.WordDecoder).DecodeHeader(raw)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != "Payment confirmation Amélie booked!" {
		t.Errorf("decoded subject = %q", got)
	}
}

func TestMessage_LineBreaksCannotAddHeaders(t *testing.T) {
	parsed := render(t, Message{
		To:      "ada@example.com",
		Subject: "Payment confirmation\r\nBcc: eve@example.com\r\n booked!",
		HTML:    "<p>hi</p>",
	})

	if bcc := parsed.Header.Get("Bcc"); bcc != "" {
		t.Fatalf("injected Bcc header: %q", bcc)
	}
	got, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != "Payment confirmation Bcc: eve@example.com booked!" {
		t.Errorf("subject = %q", got)
	}
	if to := parsed.Header.Get("To"); !strings.Contains(to, "ada@example.com") {
		t.Errorf("To = %q", to)
	}
}

func TestMessage_InvalidRecipient(t *testing.T) {
	m := &SMTPMailer{from: "no-reply@example.com", logger: observability.NewDiscardLogger()}
	if _, err := m.message(Message{To: "ada@example.com\r\nBcc: eve@example.com", Subject: "x"}); err == nil {
		t.Fatal("expected recipient with line breaks to be rejected")
	}
}

func TestNewSMTPMailer_BadPort(t *testing.T) {
	if _, err := NewSMTPMailer("smtp.example.com:abc", "", "", "no-reply@example.com", observability.NewDiscardLogger()); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}
