// ABOUTME: Tests for the mail pack's mailbox tools and outbound delivery.
// ABOUTME: Uses a fake sender; SMTP is never touched in tests.

package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/halcyard/toolgate/internal/provider"
)

type fakeSender struct {
	sent []sentMail
	fail bool
}

type sentMail struct {
	to, subject, body string
}

func (s *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if s.fail {
		return fmt.Errorf("connection refused")
	}
	s.sent = append(s.sent, sentMail{to, subject, body})
	return nil
}

func newTestPack(t *testing.T) (*provider.Pack, *fakeSender, func() (string, error)) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "mailbox.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sender := &fakeSender{}
	deliver := func() (string, error) {
		return Deliver(context.Background(), db, "carol@example.com", "me@example.com", "hello", "how are you?")
	}
	return NewPack(db, sender, nil), sender, deliver
}

func call(t *testing.T, pack *provider.Pack, tool, input string) (json.RawMessage, error) {
	t.Helper()
	tl := pack.Tool(tool)
	if tl == nil {
		t.Fatalf("pack has no tool %q", tool)
	}
	return tl.Handler(context.Background(), json.RawMessage(input))
}

func TestSendEmail(t *testing.T) {
	pack, sender, _ := newTestPack(t)

	out, err := call(t, pack, "send_email", `{"recipient_id":"bob@example.com","subject":"hi","message":"hello bob"}`)
	if err != nil {
		t.Fatalf("send_email failed: %v", err)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != "success" {
		t.Errorf("expected success, got %q", result.Status)
	}
	if len(sender.sent) != 1 || sender.sent[0].to != "bob@example.com" {
		t.Errorf("unexpected sent mail: %+v", sender.sent)
	}
}

func TestSendEmailRequiredFields(t *testing.T) {
	pack, sender, _ := newTestPack(t)

	cases := []string{
		`{"subject":"hi","message":"x"}`,
		`{"recipient_id":"a@b.c","message":"x"}`,
		`{"recipient_id":"a@b.c","subject":"hi"}`,
	}
	for _, input := range cases {
		if _, err := call(t, pack, "send_email", input); err == nil {
			t.Errorf("expected %s to be rejected", input)
		}
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should have been sent")
	}
}

func TestSendEmailDeliveryFailure(t *testing.T) {
	pack, sender, _ := newTestPack(t)
	sender.fail = true

	_, err := call(t, pack, "send_email", `{"recipient_id":"bob@example.com","subject":"hi","message":"x"}`)
	if err == nil {
		t.Fatal("expected delivery failure to surface")
	}
}

func TestSendEmailNotIdempotent(t *testing.T) {
	pack, _, _ := newTestPack(t)

	tool := pack.Tool("send_email")
	if tool == nil {
		t.Fatal("missing send_email")
	}
	if tool.Descriptor.Idempotent {
		t.Error("send_email must not be marked idempotent")
	}
}

func TestUnreadAndRead(t *testing.T) {
	pack, _, deliver := newTestPack(t)

	id, err := deliver()
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	out, err := call(t, pack, "get_unread_emails", `{}`)
	if err != nil {
		t.Fatalf("get_unread_emails failed: %v", err)
	}
	var unread struct {
		Messages []struct {
			ID      string `json:"id"`
			From    string `json:"from"`
			Subject string `json:"subject"`
		} `json:"messages"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &unread); err != nil {
		t.Fatal(err)
	}
	if unread.Count != 1 || unread.Messages[0].ID != id {
		t.Fatalf("unexpected unread listing: %+v", unread)
	}

	out, err = call(t, pack, "read_email", `{"email_id":"`+id+`"}`)
	if err != nil {
		t.Fatalf("read_email failed: %v", err)
	}
	var msg struct {
		Content string `json:"content"`
		Subject string `json:"subject"`
		From    string `json:"from"`
	}
	if err := json.Unmarshal(out, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Content != "how are you?" || msg.From != "carol@example.com" {
		t.Errorf("unexpected message: %+v", msg)
	}

	// Reading marks as read.
	out, _ = call(t, pack, "get_unread_emails", `{}`)
	if err := json.Unmarshal(out, &unread); err != nil {
		t.Fatal(err)
	}
	if unread.Count != 0 {
		t.Errorf("expected 0 unread after read, got %d", unread.Count)
	}
}

func TestMarkEmailAsRead(t *testing.T) {
	pack, _, deliver := newTestPack(t)

	id, err := deliver()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := call(t, pack, "mark_email_as_read", `{"email_id":"`+id+`"}`); err != nil {
		t.Fatalf("mark_email_as_read failed: %v", err)
	}
	if _, err := call(t, pack, "mark_email_as_read", `{"email_id":"nope"}`); err == nil {
		t.Error("expected unknown email to fail")
	}
}

func TestTrashEmail(t *testing.T) {
	pack, _, deliver := newTestPack(t)

	id, err := deliver()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := call(t, pack, "trash_email", `{"email_id":"`+id+`"}`); err != nil {
		t.Fatalf("trash_email failed: %v", err)
	}

	// Trashed mail is invisible to read and unread listings.
	if _, err := call(t, pack, "read_email", `{"email_id":"`+id+`"}`); err == nil {
		t.Error("expected trashed email to be unreadable")
	}

	out, err := call(t, pack, "get_unread_emails", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	var unread struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &unread); err != nil {
		t.Fatal(err)
	}
	if unread.Count != 0 {
		t.Errorf("expected trashed email hidden, got %d unread", unread.Count)
	}
}
