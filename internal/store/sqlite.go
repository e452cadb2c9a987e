package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
)

// SQLite is the embedded Gateway implementation backed by sqlx/go-sqlite3.
type SQLite struct {
	db     *sqlx.DB
	cipher *Cipher
}

// NewSQLite opens (or creates) the database at path and initializes the
// schema. cipher may be nil when at-rest encryption is not configured.
func NewSQLite(path string, cipher *Cipher) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, cipher: cipher}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			assigned_agent TEXT,
			ai_paused INTEGER NOT NULL DEFAULT 0,
			start_time TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			user_meta TEXT NOT NULL DEFAULT '{}',
			theme TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			confidence REAL,
			metadata TEXT NOT NULL DEFAULT '{}',
			visibility TEXT NOT NULL DEFAULT 'public',
			encrypted TEXT,
			encrypted_metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS ai_accuracy (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id TEXT,
			ai_text TEXT NOT NULL,
			confidence REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			response_type TEXT NOT NULL,
			human_mark TEXT,
			evaluation TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_accuracy_session ON ai_accuracy(session_id)`,
		`CREATE TABLE IF NOT EXISTS accuracy_audit (
			id TEXT PRIMARY KEY,
			accuracy_id TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			note TEXT,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS canned_responses (
			id TEXT PRIMARY KEY,
			shortcut TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			match_type TEXT NOT NULL DEFAULT 'shortcut',
			is_active INTEGER NOT NULL DEFAULT 1,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			session_id TEXT,
			target_user_id TEXT,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			roles TEXT NOT NULL DEFAULT '[]',
			account_status TEXT NOT NULL DEFAULT 'active',
			permissions TEXT NOT NULL DEFAULT '[]',
			token TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_token ON users(token)`,
		`CREATE TABLE IF NOT EXISTS llm_settings (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			encrypted_api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 0,
			health_status TEXT NOT NULL DEFAULT 'healthy',
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.seedCannedResponses()
}

// seedCannedResponses installs the default preloaded replies on first run.
// Deployments edit the table afterwards; existing shortcuts are never
// overwritten.
func (s *SQLite) seedCannedResponses() error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO canned_responses (id, shortcut, content, category, match_type, is_active, position) VALUES
		('seed-greeting', 'hello', 'Hi there! How can we help you today?', 'greeting', 'exact', 1, 0),
		('seed-hours', 'business hours', 'We are available Monday to Friday, 9am to 6pm.', 'general', 'keyword', 1, 1),
		('seed-human', 'human', 'Let me connect you with one of our agents.', 'escalation', 'shortcut', 1, 2),
		('seed-closing', 'system-closing', 'Thanks for chatting with us. Have a great day!', 'system', 'shortcut', 1, 3)
	`)
	return err
}

// isUnknownColumnErr recognizes the schema-shape failure class that triggers
// the single strip-and-retry documented in the persistence contract.
func isUnknownColumnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column") ||
		strings.Contains(msg, "SQLSTATE 42703") // postgres undefined_column
}

// EnsureSession creates the session if unknown, otherwise advances lastSeen
// only. userMeta is written on creation and never overwritten on update. The
// created flag reports whether this call inserted the row, so concurrent
// callers agree on which one saw a new conversation.
func (s *SQLite) EnsureSession(ctx context.Context, sessionID string, userMeta map[string]interface{}) (*Session, bool, error) {
	now := time.Now().UTC()
	metaJSON, err := marshalJSONMap(userMeta)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, status, ai_paused, start_time, last_seen, user_meta, theme)
		VALUES (?, ?, 0, ?, ?, ?, '{}')
	`, sessionID, StatusActive, now, now, metaJSON)
	if err != nil {
		return nil, false, apperrors.ServiceUnavailable("store", err)
	}
	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET last_seen = ? WHERE session_id = ?`, now, sessionID); err != nil {
			return nil, false, apperrors.ServiceUnavailable("store", err)
		}
	}

	sess, err := s.GetSession(ctx, sessionID)
	return sess, inserted == 1, err
}

// GetSession returns the session or ErrNotFound.
func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, status, assigned_agent, ai_paused, start_time, last_seen, user_meta, theme
		FROM sessions WHERE session_id = ?
	`, sessionID)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var assignedAgent sql.NullString
	var aiPaused int
	var userMetaJSON, themeJSON string

	err := row.Scan(&sess.SessionID, &sess.Status, &assignedAgent, &aiPaused,
		&sess.StartTime, &sess.LastSeen, &userMetaJSON, &themeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}

	sess.AssignedAgent = assignedAgent.String
	sess.AIPaused = aiPaused == 1
	if err := unmarshalJSONMap(userMetaJSON, &sess.UserMeta); err != nil {
		return nil, fmt.Errorf("deserialize user_meta: %w", err)
	}
	if err := unmarshalJSONMap(themeJSON, &sess.Theme); err != nil {
		return nil, fmt.Errorf("deserialize theme: %w", err)
	}
	return sess, nil
}

// UpdateSessionStatus merges status, lastSeen and the optional patch fields.
// When the store rejects the assignment columns, it retries once with those
// fields folded into userMeta.
func (s *SQLite) UpdateSessionStatus(ctx context.Context, sessionID, status string, patch *StatusPatch) error {
	now := time.Now().UTC()
	if patch == nil {
		patch = &StatusPatch{}
	}

	err := s.updateWithColumns(ctx, sessionID, status, now, patch)
	if isUnknownColumnErr(err) {
		return s.updateFoldedIntoMeta(ctx, sessionID, status, now, patch)
	}
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func (s *SQLite) updateWithColumns(ctx context.Context, sessionID, status string, now time.Time, patch *StatusPatch) error {
	set := []string{"status = ?", "last_seen = ?"}
	args := []interface{}{status, now}

	if patch.AssignedAgent != nil {
		set = append(set, "assigned_agent = ?")
		args = append(args, nullableString(*patch.AssignedAgent))
	}
	if patch.AIPaused != nil {
		set = append(set, "ai_paused = ?")
		args = append(args, boolToInt(*patch.AIPaused))
	}
	if patch.UserMeta != nil {
		metaJSON, err := marshalJSONMap(patch.UserMeta)
		if err != nil {
			return err
		}
		set = append(set, "user_meta = ?")
		args = append(args, metaJSON)
	}
	args = append(args, sessionID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(set, ", ")+` WHERE session_id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// updateFoldedIntoMeta is the one-shot retry for stores lacking the
// assignment columns: the extra fields ride inside user_meta instead.
func (s *SQLite) updateFoldedIntoMeta(ctx context.Context, sessionID, status string, now time.Time, patch *StatusPatch) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	meta := sess.UserMeta
	if meta == nil {
		meta = make(map[string]interface{})
	}
	for k, v := range patch.UserMeta {
		meta[k] = v
	}
	if patch.AssignedAgent != nil {
		meta["assignedAgent"] = *patch.AssignedAgent
	}
	if patch.AIPaused != nil {
		meta["aiPaused"] = *patch.AIPaused
	}

	metaJSON, err := marshalJSONMap(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, last_seen = ?, user_meta = ? WHERE session_id = ?`,
		status, now, metaJSON, sessionID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

// AssignAgent binds the session to an agent. The assignment is written to
// the direct columns and mirrored into userMeta so either read path sees it.
// Assigning a closed session is rejected.
func (s *SQLite) AssignAgent(ctx context.Context, sessionID, agentID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == StatusClosed {
		return apperrors.Conflict("cannot assign agent to a closed session")
	}

	meta := sess.UserMeta
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["assignedAgent"] = agentID
	meta["aiPaused"] = true

	paused := true
	return s.UpdateSessionStatus(ctx, sessionID, StatusAgentAssigned, &StatusPatch{
		AssignedAgent: &agentID,
		AIPaused:      &paused,
		UserMeta:      meta,
	})
}

// CloseSession marks the session terminal.
func (s *SQLite) CloseSession(ctx context.Context, sessionID string) error {
	return s.UpdateSessionStatus(ctx, sessionID, StatusClosed, nil)
}

// AppendMessage ensures the session exists, then writes one immutable turn.
// With encryption configured the ciphertext columns are written; with
// redaction enabled the plaintext columns are cleared.
func (s *SQLite) AppendMessage(ctx context.Context, params AppendMessageParams) (string, error) {
	if _, _, err := s.EnsureSession(ctx, params.SessionID, nil); err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	visibility := params.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	metaJSON, err := marshalJSONMap(params.Metadata)
	if err != nil {
		return "", err
	}

	text := params.Text
	plainMeta := metaJSON
	var encrypted, encryptedMeta sql.NullString
	if s.cipher != nil {
		ct, err := s.cipher.Encrypt(params.Text)
		if err != nil {
			return "", fmt.Errorf("encrypt message: %w", err)
		}
		cm, err := s.cipher.Encrypt(metaJSON)
		if err != nil {
			return "", fmt.Errorf("encrypt metadata: %w", err)
		}
		encrypted = sql.NullString{String: ct, Valid: true}
		encryptedMeta = sql.NullString{String: cm, Valid: true}
		if s.cipher.RedactPlaintext {
			text = ""
			metaJSON = "{}"
		}
	}

	var confidence sql.NullFloat64
	if params.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *params.Confidence, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender, text, confidence, metadata, visibility, encrypted, encrypted_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, params.SessionID, params.Sender, text, confidence, metaJSON, visibility, encrypted, encryptedMeta, now)
	if isUnknownColumnErr(err) {
		// Tables created before encryption support lack the ciphertext
		// columns, and they cannot hold ciphertext; the plaintext columns
		// carry the turn so persistence keeps working.
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, sender, text, confidence, metadata, visibility, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, params.SessionID, params.Sender, params.Text, confidence, plainMeta, visibility, now)
	}
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return id, nil
}

// ListMessages returns decrypted messages ordered by createdAt.
func (s *SQLite) ListMessages(ctx context.Context, sessionID string, opts ListMessagesOptions) ([]*Message, error) {
	order := "ASC"
	if strings.EqualFold(opts.Order, "desc") {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 || limit > maxScanRows {
		limit = maxScanRows
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, confidence, metadata, visibility, encrypted, encrypted_metadata, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at `+order+`
		LIMIT ? OFFSET ?
	`, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		msg := &Message{}
		var confidence sql.NullFloat64
		var metaJSON string
		var encrypted, encryptedMeta sql.NullString

		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Text, &confidence,
			&metaJSON, &msg.Visibility, &encrypted, &encryptedMeta, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}

		if confidence.Valid {
			v := confidence.Float64
			msg.Confidence = &v
		}

		// Ciphertext wins over redacted plaintext when a cipher is available.
		if s.cipher != nil && encrypted.Valid && encrypted.String != "" {
			plaintext, err := s.cipher.Decrypt(encrypted.String)
			if err != nil {
				return nil, fmt.Errorf("decrypt message %s: %w", msg.ID, err)
			}
			msg.Text = plaintext
			if encryptedMeta.Valid && encryptedMeta.String != "" {
				metaJSON, err = s.cipher.Decrypt(encryptedMeta.String)
				if err != nil {
					return nil, fmt.Errorf("decrypt metadata %s: %w", msg.ID, err)
				}
			}
		}

		if err := unmarshalJSONMap(metaJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("deserialize metadata: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveAccuracyRecord writes one per-AI-turn audit row.
func (s *SQLite) SaveAccuracyRecord(ctx context.Context, rec *AccuracyRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	metaJSON, err := marshalJSONMap(rec.Metadata)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_accuracy (id, session_id, message_id, ai_text, confidence, latency_ms, tokens, response_type, human_mark, evaluation, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, nullableString(rec.MessageID), rec.AIText, rec.Confidence,
		rec.LatencyMs, rec.Tokens, rec.ResponseType, nullableString(rec.HumanMark),
		nullableString(rec.Evaluation), metaJSON, rec.CreatedAt)
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return rec.ID, nil
}

// UpdateAccuracyFeedback mutates only humanMark and evaluation.
func (s *SQLite) UpdateAccuracyFeedback(ctx context.Context, accuracyID, humanMark, evaluation string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_accuracy SET human_mark = ?, evaluation = ? WHERE id = ?`,
		nullableString(humanMark), nullableString(evaluation), accuracyID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAccuracyAudit records an admin feedback action.
func (s *SQLite) AppendAccuracyAudit(ctx context.Context, audit *AccuracyAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.TS.IsZero() {
		audit.TS = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accuracy_audit (id, accuracy_id, admin_id, action, note, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, audit.ID, audit.AccuracyID, audit.AdminID, audit.Action, nullableString(audit.Note), audit.TS)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

// ListCannedResponses returns the preloaded reply configuration in insertion
// order.
func (s *SQLite) ListCannedResponses(ctx context.Context, activeOnly bool) ([]*CannedResponse, error) {
	query := `SELECT id, shortcut, content, category, match_type, is_active, position FROM canned_responses`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*CannedResponse
	for rows.Next() {
		cr := &CannedResponse{}
		var isActive int
		if err := rows.Scan(&cr.ID, &cr.Shortcut, &cr.Content, &cr.Category, &cr.MatchType, &isActive, &cr.Position); err != nil {
			return nil, err
		}
		cr.IsActive = isActive == 1
		result = append(result, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendNotification writes one admin-feed notification row.
func (s *SQLite) AppendNotification(ctx context.Context, n *Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, content, session_id, target_user_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Type, n.Content, nullableString(n.SessionID), nullableString(n.TargetUserID),
		boolToInt(n.IsRead), n.CreatedAt)
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return n.ID, nil
}

// GetUserByToken resolves a bearer token to a user record.
func (s *SQLite) GetUserByToken(ctx context.Context, token string) (*User, error) {
	return s.getUser(ctx, `token = ?`, token)
}

// GetUserByID returns the user or ErrNotFound.
func (s *SQLite) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return s.getUser(ctx, `user_id = ?`, userID)
}

// GetUserByEmail returns the user or ErrNotFound.
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

func (s *SQLite) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	u := &User{}
	var rolesJSON, permsJSON string
	var token sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, roles, account_status, permissions, token, created_at, updated_at
		FROM users WHERE `+where, arg).
		Scan(&u.UserID, &u.Email, &u.Name, &rolesJSON, &u.AccountStatus, &permsJSON, &token, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}

	u.Token = token.String
	if err := json.Unmarshal([]byte(rolesJSON), &u.Roles); err != nil {
		return nil, fmt.Errorf("deserialize roles: %w", err)
	}
	if err := json.Unmarshal([]byte(permsJSON), &u.Permissions); err != nil {
		return nil, fmt.Errorf("deserialize permissions: %w", err)
	}
	return u, nil
}

// CreateUser inserts a principal record.
func (s *SQLite) CreateUser(ctx context.Context, u *User) error {
	if u.UserID == "" {
		u.UserID = uuid.New().String()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.AccountStatus == "" {
		u.AccountStatus = "active"
	}

	rolesJSON, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("serialize roles: %w", err)
	}
	permsJSON, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("serialize permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, name, roles, account_status, permissions, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.UserID, u.Email, u.Name, string(rolesJSON), u.AccountStatus, string(permsJSON),
		nullableString(u.Token), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflict("user already exists")
		}
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

// ActiveLLMSetting returns the single active provider configuration.
func (s *SQLite) ActiveLLMSetting(ctx context.Context) (*LLMSetting, error) {
	setting := &LLMSetting{}
	var isActive int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, model, encrypted_api_key, base_url, is_active, health_status, last_error, updated_at
		FROM llm_settings WHERE is_active = 1 LIMIT 1
	`).Scan(&setting.ID, &setting.Provider, &setting.Model, &setting.EncryptedAPIKey,
		&setting.BaseURL, &isActive, &setting.HealthStatus, &setting.LastError, &setting.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	setting.IsActive = isActive == 1
	return setting, nil
}

// SetLLMHealth persists the advisory health state of a configuration.
func (s *SQLite) SetLLMHealth(ctx context.Context, settingID, healthStatus, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_settings SET health_status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		healthStatus, lastError, time.Now().UTC(), settingID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func marshalJSONMap(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("serialize json map: %w", err)
	}
	return string(b), nil
}

func unmarshalJSONMap(s string, out *map[string]interface{}) error {
	if s == "" || s == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
