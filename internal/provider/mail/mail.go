// ABOUTME: Mail pack combining outbound SMTP delivery with a SQLite-backed mailbox.
// ABOUTME: send_email is the one non-idempotent tool in the default pack set.

package mail

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/halcyard/toolgate/internal/provider"
)

// Sender delivers outbound mail. SMTPSender is the real implementation;
// tests inject fakes.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender delivers mail through a plain SMTP endpoint.
type SMTPSender struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Open opens (or creates) the mailbox database and its schema.
func Open(path string) (*sql.DB, error) {
	// Pragmas ride the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite",
		path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening mailbox database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS emails (
			id          TEXT PRIMARY KEY,
			sender      TEXT NOT NULL,
			recipient   TEXT NOT NULL,
			subject     TEXT NOT NULL,
			body        TEXT NOT NULL,
			unread      INTEGER NOT NULL DEFAULT 1,
			trashed     INTEGER NOT NULL DEFAULT 0,
			received_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mailbox schema: %w", err)
	}
	return db, nil
}

// NewPack creates the mail pack over an open mailbox database and a sender.
func NewPack(db *sql.DB, sender Sender, logger *slog.Logger) *provider.Pack {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{db: db, sender: sender, logger: logger.With("component", "mail")}

	return &provider.Pack{
		ID:      "mail",
		Version: "1.0.0",
		Tools: []*provider.Tool{
			{
				Descriptor: provider.Descriptor{
					Name:        "send_email",
					Description: "Send an email to a recipient",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"recipient_id":{"type":"string","description":"Recipient address"},"subject":{"type":"string"},"message":{"type":"string"}},"required":["recipient_id","subject","message"]}`),
					Idempotent:  false,
				},
				Handler: h.sendEmail,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "get_unread_emails",
					Description: "List unread emails in the inbox",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.getUnreadEmails,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "read_email",
					Description: "Read an email's full contents and mark it as read",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"email_id":{"type":"string"}},"required":["email_id"]}`),
					Idempotent:  true,
				},
				Handler: h.readEmail,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "mark_email_as_read",
					Description: "Mark an email as read without returning its contents",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"email_id":{"type":"string"}},"required":["email_id"]}`),
					Idempotent:  true,
				},
				Handler: h.markEmailAsRead,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "trash_email",
					Description: "Move an email to the trash",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"email_id":{"type":"string"}},"required":["email_id"]}`),
					Idempotent:  true,
				},
				Handler: h.trashEmail,
			},
		},
	}
}

type handlers struct {
	db     *sql.DB
	sender Sender
	logger *slog.Logger
}

type sendEmailInput struct {
	RecipientID string `json:"recipient_id"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
}

func (h *handlers) sendEmail(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in sendEmailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.RecipientID == "" {
		return nil, fmt.Errorf("recipient_id is required")
	}
	if in.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if in.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	if err := h.sender.Send(ctx, in.RecipientID, in.Subject, in.Message); err != nil {
		return nil, fmt.Errorf("sending email: %w", err)
	}

	h.logger.Info("email sent", "recipient", in.RecipientID)
	return json.Marshal(map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Email sent to %s", in.RecipientID),
	})
}

func (h *handlers) getUnreadEmails(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, sender, subject, received_at
		FROM emails WHERE unread = 1 AND trashed = 0
		ORDER BY received_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing unread emails: %w", err)
	}
	defer rows.Close()

	type summary struct {
		ID         string `json:"id"`
		From       string `json:"from"`
		Subject    string `json:"subject"`
		ReceivedAt string `json:"received_at"`
	}
	messages := []summary{}
	for rows.Next() {
		var m summary
		if err := rows.Scan(&m.ID, &m.From, &m.Subject, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning email: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"messages": messages, "count": len(messages)})
}

type emailIDInput struct {
	EmailID string `json:"email_id"`
}

func (h *handlers) readEmail(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in emailIDInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var sender, recipient, subject, body, receivedAt string
	err := h.db.QueryRowContext(ctx, `
		SELECT sender, recipient, subject, body, received_at
		FROM emails WHERE id = ? AND trashed = 0`, in.EmailID,
	).Scan(&sender, &recipient, &subject, &body, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %q does not exist", in.EmailID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading email: %w", err)
	}

	// Reading marks as read, matching mailbox semantics.
	if _, err := h.db.ExecContext(ctx,
		`UPDATE emails SET unread = 0 WHERE id = ?`, in.EmailID); err != nil {
		return nil, fmt.Errorf("marking email as read: %w", err)
	}

	return json.Marshal(map[string]any{
		"content": body,
		"subject": subject,
		"from":    sender,
		"to":      recipient,
		"date":    receivedAt,
	})
}

func (h *handlers) markEmailAsRead(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in emailIDInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx,
		`UPDATE emails SET unread = 0 WHERE id = ? AND trashed = 0`, in.EmailID)
	if err != nil {
		return nil, fmt.Errorf("marking email as read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("email %q does not exist", in.EmailID)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("Email %s marked as read", in.EmailID)})
}

func (h *handlers) trashEmail(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in emailIDInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx,
		`UPDATE emails SET trashed = 1 WHERE id = ?`, in.EmailID)
	if err != nil {
		return nil, fmt.Errorf("trashing email: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("email %q does not exist", in.EmailID)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("Email %s moved to trash", in.EmailID)})
}

// Deliver inserts an email into the mailbox. Used by local delivery and tests.
func Deliver(ctx context.Context, db *sql.DB, sender, recipient, subject, body string) (string, error) {
	id := uuid.New().String()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO emails (id, sender, recipient, subject, body, unread, trashed, received_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, ?)`,
		id, sender, recipient, subject, body,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("delivering email: %w", err)
	}
	return id, nil
}
