// ABOUTME: SQLite implementation of the session Store using modernc.org/sqlite.
// ABOUTME: Serializes appends per conversation and assigns sequence numbers transactionally.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyard/toolgate/internal/gateway"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// convMu guards locks; each conversation gets its own mutex so appends
	// to distinct conversations never contend.
	convMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewSQLiteStore creates a session store at the given path. The schema is
// created if it doesn't exist; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "session")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas ride the DSN so every pooled connection gets them: WAL for
	// concurrent readers, a busy timeout so writers to other conversations
	// wait instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite",
		path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Append transactions read the current max sequence before writing; a
	// single connection rules out lock-upgrade conflicts between them.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			ended_at   TEXT
		);

		CREATE TABLE IF NOT EXISTS turns (
			conversation_id  TEXT NOT NULL REFERENCES conversations(id),
			seq              INTEGER NOT NULL,
			role             TEXT NOT NULL,
			content          TEXT NOT NULL,
			tool_call_json   TEXT,
			tool_result_json TEXT,
			created_at       TEXT NOT NULL,

			PRIMARY KEY (conversation_id, seq),
			CHECK (role IN ('user', 'assistant', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// lockFor returns the append mutex for a conversation, creating it on first use.
func (s *SQLiteStore) lockFor(conversationID string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	mu, ok := s.locks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[conversationID] = mu
	}
	return mu
}

// Append assigns the next sequence number and persists the turn. Concurrent
// appends to the same conversation serialize through the per-conversation
// mutex; the sequence number is read and written inside one transaction.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, turn *Turn) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()

	var callJSON, resultJSON sql.NullString
	if turn.ToolCall != nil {
		b, err := json.Marshal(turn.ToolCall)
		if err != nil {
			return fmt.Errorf("encoding tool call: %w", err)
		}
		callJSON = sql.NullString{String: string(b), Valid: true}
	}
	if turn.ToolResult != nil {
		b, err := json.Marshal(turn.ToolResult)
		if err != nil {
			return fmt.Errorf("encoding tool result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)`,
		conversationID, now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?`,
		conversationID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("assigning sequence number: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, seq, role, content, tool_call_json, tool_result_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, seq, string(turn.Role), turn.Content,
		callJSON, resultJSON, now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	turn.ConversationID = conversationID
	turn.Seq = seq
	turn.CreatedAt = now
	return nil
}

// ReadHistory returns turns oldest-first. With maxTurns > 0, the window is
// anchored at the end and extended backwards if it would otherwise open on a
// tool turn whose paired assistant tool-call turn was cut off.
func (s *SQLiteStore) ReadHistory(ctx context.Context, conversationID string, maxTurns int) ([]*Turn, error) {
	exists, err := s.conversationExists(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConversation, conversationID)
	}

	var maxSeq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE conversation_id = ?`,
		conversationID,
	).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("reading max sequence: %w", err)
	}

	from := int64(1)
	if maxTurns > 0 && maxSeq > int64(maxTurns) {
		from = maxSeq - int64(maxTurns) + 1
		// Never open the window on an orphaned tool result: walk backwards
		// until the first included turn is not a tool turn.
		for from > 1 {
			role, err := s.turnRole(ctx, conversationID, from)
			if err != nil {
				return nil, err
			}
			if role != RoleTool {
				break
			}
			from--
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, tool_call_json, tool_result_json, created_at
		 FROM turns WHERE conversation_id = ? AND seq >= ? ORDER BY seq`,
		conversationID, from,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows, conversationID)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// ListConversations returns stored conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*ConversationInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.ended_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		 FROM conversations c ORDER BY c.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*ConversationInfo
	for rows.Next() {
		var info ConversationInfo
		var createdAt string
		var endedAt sql.NullString
		if err := rows.Scan(&info.ID, &createdAt, &endedAt, &info.TurnCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if endedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing ended_at: %w", err)
			}
			info.EndedAt = &t
		}
		out = append(out, &info)
	}
	return out, rows.Err()
}

// EndConversation marks a conversation as ended; its history stays readable.
func (s *SQLiteStore) EndConversation(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownConversation, conversationID)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) conversationExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking conversation: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) turnRole(ctx context.Context, conversationID string, seq int64) (Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM turns WHERE conversation_id = ? AND seq = ?`,
		conversationID, seq).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading turn role: %w", err)
	}
	return Role(role), nil
}

func scanTurn(rows *sql.Rows, conversationID string) (*Turn, error) {
	var turn Turn
	var role, createdAt string
	var callJSON, resultJSON sql.NullString

	if err := rows.Scan(&turn.Seq, &role, &turn.Content, &callJSON, &resultJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}
	turn.ConversationID = conversationID
	turn.Role = Role(role)

	var err error
	if turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing turn timestamp: %w", err)
	}
	if callJSON.Valid {
		var call gateway.CallRequest
		if err := json.Unmarshal([]byte(callJSON.String), &call); err != nil {
			return nil, fmt.Errorf("decoding tool call: %w", err)
		}
		turn.ToolCall = &call
	}
	if resultJSON.Valid {
		var result gateway.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decoding tool result: %w", err)
		}
		turn.ToolResult = &result
	}
	return &turn, nil
}
