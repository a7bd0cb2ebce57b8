// ABOUTME: Identity pack managing a local directory of users, groups, policies, and keys.
// ABOUTME: Backed by its own SQLite schema; all mutations are idempotency-safe upserts or keyed deletes.

package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/halcyard/toolgate/internal/provider"
)

// Open opens (or creates) the identity database and its schema.
func Open(path string) (*sql.DB, error) {
	// Pragmas ride the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite",
		path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening identity database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS users (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS groups (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_members (
			group_name TEXT NOT NULL REFERENCES groups(name) ON DELETE CASCADE,
			user_name  TEXT NOT NULL REFERENCES users(name) ON DELETE CASCADE,
			PRIMARY KEY (group_name, user_name)
		);

		CREATE TABLE IF NOT EXISTS policies (
			name          TEXT PRIMARY KEY,
			document_json TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS policy_attachments (
			policy_name TEXT NOT NULL REFERENCES policies(name) ON DELETE CASCADE,
			user_name   TEXT NOT NULL REFERENCES users(name) ON DELETE CASCADE,
			PRIMARY KEY (policy_name, user_name)
		);

		CREATE TABLE IF NOT EXISTS access_keys (
			id         TEXT PRIMARY KEY,
			user_name  TEXT NOT NULL REFERENCES users(name) ON DELETE CASCADE,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating identity schema: %w", err)
	}
	return db, nil
}

// NewPack creates the identity pack over an open database.
func NewPack(db *sql.DB, logger *slog.Logger) *provider.Pack {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{db: db, logger: logger.With("component", "identity")}

	return &provider.Pack{
		ID:      "identity",
		Version: "1.0.0",
		Tools: []*provider.Tool{
			{
				Descriptor: provider.Descriptor{
					Name:        "create_user",
					Description: "Create a user in the directory",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"}},"required":["user_name"]}`),
					Idempotent:  true,
				},
				Handler: h.createUser,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_users",
					Description: "List all users in the directory",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.listUsers,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "delete_user",
					Description: "Delete a user and everything attached to it",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"}},"required":["user_name"]}`),
					Idempotent:  true,
				},
				Handler: h.deleteUser,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "create_group",
					Description: "Create a group",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"group_name":{"type":"string"}},"required":["group_name"]}`),
					Idempotent:  true,
				},
				Handler: h.createGroup,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_groups",
					Description: "List all groups and their members",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.listGroups,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "add_user_to_group",
					Description: "Add a user to a group",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"},"group_name":{"type":"string"}},"required":["user_name","group_name"]}`),
					Idempotent:  true,
				},
				Handler: h.addUserToGroup,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "remove_user_from_group",
					Description: "Remove a user from a group",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"},"group_name":{"type":"string"}},"required":["user_name","group_name"]}`),
					Idempotent:  true,
				},
				Handler: h.removeUserFromGroup,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "attach_policy",
					Description: "Create a policy if needed and attach it to a user",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"policy_name":{"type":"string"},"user_name":{"type":"string"},"document":{"type":"object","description":"Policy document"}},"required":["policy_name","user_name"]}`),
					Idempotent:  true,
				},
				Handler: h.attachPolicy,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_policies",
					Description: "List all policies and their attachments",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					Idempotent:  true,
				},
				Handler: h.listPolicies,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "detach_policy",
					Description: "Detach a policy from a user",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"policy_name":{"type":"string"},"user_name":{"type":"string"}},"required":["policy_name","user_name"]}`),
					Idempotent:  true,
				},
				Handler: h.detachPolicy,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "create_access_key",
					Description: "Issue a new access key for a user",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"}},"required":["user_name"]}`),
					Idempotent:  false,
				},
				Handler: h.createAccessKey,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "list_access_keys",
					Description: "List access keys, optionally for one user",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"user_name":{"type":"string"}}}`),
					Idempotent:  true,
				},
				Handler: h.listAccessKeys,
			},
			{
				Descriptor: provider.Descriptor{
					Name:        "delete_access_key",
					Description: "Delete an access key by id",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"access_key_id":{"type":"string"}},"required":["access_key_id"]}`),
					Idempotent:  true,
				},
				Handler: h.deleteAccessKey,
			},
		},
	}
}

type handlers struct {
	db     *sql.DB
	logger *slog.Logger
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

type userInput struct {
	UserName string `json:"user_name"`
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	if len(name) > 128 {
		return errors.New("name too long")
	}
	return nil
}

func (h *handlers) createUser(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in userInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := validName(in.UserName); err != nil {
		return nil, err
	}

	res, err := h.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (name, created_at) VALUES (?, ?)`, in.UserName, now())
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("user %q already exists", in.UserName)
	}

	h.logger.Info("user created", "user", in.UserName)
	return json.Marshal(map[string]any{"message": fmt.Sprintf("created user %s", in.UserName)})
}

func (h *handlers) listUsers(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT name, created_at FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	type user struct {
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
	}
	users := []user{}
	for rows.Next() {
		var u user
		if err := rows.Scan(&u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"users": users, "count": len(users)})
}

func (h *handlers) deleteUser(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in userInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx, `DELETE FROM users WHERE name = ?`, in.UserName)
	if err != nil {
		return nil, fmt.Errorf("deleting user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("user %q does not exist", in.UserName)
	}

	h.logger.Info("user deleted", "user", in.UserName)
	return json.Marshal(map[string]any{"message": fmt.Sprintf("deleted user %s", in.UserName)})
}

type groupInput struct {
	GroupName string `json:"group_name"`
}

func (h *handlers) createGroup(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in groupInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := validName(in.GroupName); err != nil {
		return nil, err
	}

	res, err := h.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO groups (name, created_at) VALUES (?, ?)`, in.GroupName, now())
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("group %q already exists", in.GroupName)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("created group %s", in.GroupName)})
}

func (h *handlers) listGroups(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT g.name, COALESCE(GROUP_CONCAT(m.user_name), '')
		FROM groups g
		LEFT JOIN group_members m ON m.group_name = g.name
		GROUP BY g.name ORDER BY g.name`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	type group struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	groups := []group{}
	for rows.Next() {
		var g group
		var members string
		if err := rows.Scan(&g.Name, &members); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		if members != "" {
			g.Members = strings.Split(members, ",")
		} else {
			g.Members = []string{}
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"groups": groups, "count": len(groups)})
}

type membershipInput struct {
	UserName  string `json:"user_name"`
	GroupName string `json:"group_name"`
}

func (h *handlers) addUserToGroup(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in membershipInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if _, err := h.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_name, user_name) VALUES (?, ?)`,
		in.GroupName, in.UserName,
	); err != nil {
		return nil, fmt.Errorf("adding user to group (do the user and group exist?): %w", err)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("added %s to %s", in.UserName, in.GroupName)})
}

func (h *handlers) removeUserFromGroup(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in membershipInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_name = ? AND user_name = ?`,
		in.GroupName, in.UserName)
	if err != nil {
		return nil, fmt.Errorf("removing user from group: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("%s is not a member of %s", in.UserName, in.GroupName)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("removed %s from %s", in.UserName, in.GroupName)})
}

type policyInput struct {
	PolicyName string         `json:"policy_name"`
	UserName   string         `json:"user_name"`
	Document   map[string]any `json:"document"`
}

func (h *handlers) attachPolicy(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in policyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := validName(in.PolicyName); err != nil {
		return nil, err
	}

	doc := in.Document
	if doc == nil {
		doc = map[string]any{}
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding policy document: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO policies (name, document_json, created_at) VALUES (?, ?, ?)`,
		in.PolicyName, string(docJSON), now(),
	); err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO policy_attachments (policy_name, user_name) VALUES (?, ?)`,
		in.PolicyName, in.UserName,
	); err != nil {
		return nil, fmt.Errorf("attaching policy (does the user exist?): %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}

	h.logger.Info("policy attached", "policy", in.PolicyName, "user", in.UserName)
	return json.Marshal(map[string]any{"message": fmt.Sprintf("attached %s to %s", in.PolicyName, in.UserName)})
}

func (h *handlers) listPolicies(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT p.name, p.document_json, COALESCE(GROUP_CONCAT(a.user_name), '')
		FROM policies p
		LEFT JOIN policy_attachments a ON a.policy_name = p.name
		GROUP BY p.name ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	type policy struct {
		Name       string          `json:"name"`
		Document   json.RawMessage `json:"document"`
		AttachedTo []string        `json:"attached_to"`
	}
	policies := []policy{}
	for rows.Next() {
		var p policy
		var docJSON, attached string
		if err := rows.Scan(&p.Name, &docJSON, &attached); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		p.Document = json.RawMessage(docJSON)
		if attached != "" {
			p.AttachedTo = strings.Split(attached, ",")
		} else {
			p.AttachedTo = []string{}
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"policies": policies, "count": len(policies)})
}

func (h *handlers) detachPolicy(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in policyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx,
		`DELETE FROM policy_attachments WHERE policy_name = ? AND user_name = ?`,
		in.PolicyName, in.UserName)
	if err != nil {
		return nil, fmt.Errorf("detaching policy: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("%s is not attached to %s", in.PolicyName, in.UserName)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("detached %s from %s", in.PolicyName, in.UserName)})
}

func (h *handlers) createAccessKey(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in userInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var one int
	err := h.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE name = ?`, in.UserName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q does not exist", in.UserName)
	}
	if err != nil {
		return nil, fmt.Errorf("checking user: %w", err)
	}

	id := uuid.New().String()
	if _, err := h.db.ExecContext(ctx,
		`INSERT INTO access_keys (id, user_name, status, created_at) VALUES (?, ?, 'active', ?)`,
		id, in.UserName, now(),
	); err != nil {
		return nil, fmt.Errorf("creating access key: %w", err)
	}

	h.logger.Info("access key created", "user", in.UserName, "key_id", id)
	return json.Marshal(map[string]any{"access_key_id": id, "user_name": in.UserName, "status": "active"})
}

func (h *handlers) listAccessKeys(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in userInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	query := `SELECT id, user_name, status, created_at FROM access_keys ORDER BY created_at`
	args := []any{}
	if in.UserName != "" {
		query = `SELECT id, user_name, status, created_at FROM access_keys WHERE user_name = ? ORDER BY created_at`
		args = append(args, in.UserName)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing access keys: %w", err)
	}
	defer rows.Close()

	type key struct {
		ID        string `json:"access_key_id"`
		UserName  string `json:"user_name"`
		Status    string `json:"status"`
		CreatedAt string `json:"created_at"`
	}
	keys := []key{}
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.ID, &k.UserName, &k.Status, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning access key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"access_keys": keys, "count": len(keys)})
}

type deleteKeyInput struct {
	AccessKeyID string `json:"access_key_id"`
}

func (h *handlers) deleteAccessKey(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in deleteKeyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	res, err := h.db.ExecContext(ctx, `DELETE FROM access_keys WHERE id = ?`, in.AccessKeyID)
	if err != nil {
		return nil, fmt.Errorf("deleting access key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("access key %q does not exist", in.AccessKeyID)
	}
	return json.Marshal(map[string]any{"message": fmt.Sprintf("deleted access key %s", in.AccessKeyID)})
}
