package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
)

// Postgres is the Gateway implementation backed by pgx connection pooling,
// for deployments where several nodes share one store.
type Postgres struct {
	pool   *pgxpool.Pool
	cipher *Cipher
}

// NewPostgres connects to the database, verifies the connection and
// initializes the schema. cipher may be nil.
func NewPostgres(ctx context.Context, dsn string, cipher *Cipher) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool, cipher: cipher}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return p, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			assigned_agent TEXT,
			ai_paused BOOLEAN NOT NULL DEFAULT FALSE,
			start_time TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			user_meta JSONB NOT NULL DEFAULT '{}',
			theme JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION,
			metadata JSONB NOT NULL DEFAULT '{}',
			visibility TEXT NOT NULL DEFAULT 'public',
			encrypted TEXT,
			encrypted_metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS ai_accuracy (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id TEXT,
			ai_text TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			latency_ms BIGINT NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			response_type TEXT NOT NULL,
			human_mark TEXT,
			evaluation TEXT,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_accuracy_session ON ai_accuracy(session_id)`,
		`CREATE TABLE IF NOT EXISTS accuracy_audit (
			id TEXT PRIMARY KEY,
			accuracy_id TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			note TEXT,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS canned_responses (
			id TEXT PRIMARY KEY,
			shortcut TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			match_type TEXT NOT NULL DEFAULT 'shortcut',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			session_id TEXT,
			target_user_id TEXT,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			roles JSONB NOT NULL DEFAULT '[]',
			account_status TEXT NOT NULL DEFAULT 'active',
			permissions JSONB NOT NULL DEFAULT '[]',
			token TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_token ON users(token)`,
		`CREATE TABLE IF NOT EXISTS llm_settings (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			encrypted_api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			health_status TEXT NOT NULL DEFAULT 'healthy',
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return p.seedCannedResponses(ctx)
}

// seedCannedResponses installs the default preloaded replies on first run.
// Deployments edit the table afterwards; existing shortcuts are never
// overwritten.
func (p *Postgres) seedCannedResponses(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO canned_responses (id, shortcut, content, category, match_type, is_active, position) VALUES
		('seed-greeting', 'hello', 'Hi there! How can we help you today?', 'greeting', 'exact', TRUE, 0),
		('seed-hours', 'business hours', 'We are available Monday to Friday, 9am to 6pm.', 'general', 'keyword', TRUE, 1),
		('seed-human', 'human', 'Let me connect you with one of our agents.', 'escalation', 'shortcut', TRUE, 2),
		('seed-closing', 'system-closing', 'Thanks for chatting with us. Have a great day!', 'system', 'shortcut', TRUE, 3)
		ON CONFLICT (shortcut) DO NOTHING
	`)
	return err
}

// EnsureSession creates the session if unknown, otherwise advances lastSeen
// only. The created flag reports whether this call inserted the row.
func (p *Postgres) EnsureSession(ctx context.Context, sessionID string, userMeta map[string]interface{}) (*Session, bool, error) {
	now := time.Now().UTC()
	metaJSON, err := marshalJSONMap(userMeta)
	if err != nil {
		return nil, false, err
	}

	// xmax is zero only on a freshly inserted row.
	var created bool
	err = p.pool.QueryRow(ctx, `
		INSERT INTO sessions (session_id, status, ai_paused, start_time, last_seen, user_meta, theme)
		VALUES ($1, $2, FALSE, $3, $4, $5, '{}')
		ON CONFLICT (session_id) DO UPDATE SET last_seen = EXCLUDED.last_seen
		RETURNING (xmax = 0)
	`, sessionID, StatusActive, now, now, metaJSON).Scan(&created)
	if err != nil {
		return nil, false, apperrors.ServiceUnavailable("store", err)
	}

	sess, err := p.GetSession(ctx, sessionID)
	return sess, created, err
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess := &Session{}
	var assignedAgent *string
	var userMetaJSON, themeJSON []byte

	err := p.pool.QueryRow(ctx, `
		SELECT session_id, status, assigned_agent, ai_paused, start_time, last_seen, user_meta, theme
		FROM sessions WHERE session_id = $1
	`, sessionID).Scan(&sess.SessionID, &sess.Status, &assignedAgent, &sess.AIPaused,
		&sess.StartTime, &sess.LastSeen, &userMetaJSON, &themeJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}

	if assignedAgent != nil {
		sess.AssignedAgent = *assignedAgent
	}
	if err := json.Unmarshal(userMetaJSON, &sess.UserMeta); err != nil {
		return nil, fmt.Errorf("deserialize user_meta: %w", err)
	}
	if err := json.Unmarshal(themeJSON, &sess.Theme); err != nil {
		return nil, fmt.Errorf("deserialize theme: %w", err)
	}
	return sess, nil
}

func (p *Postgres) UpdateSessionStatus(ctx context.Context, sessionID, status string, patch *StatusPatch) error {
	now := time.Now().UTC()
	if patch == nil {
		patch = &StatusPatch{}
	}

	err := p.updateWithColumns(ctx, sessionID, status, now, patch)
	if isUnknownColumnErr(err) {
		return p.updateFoldedIntoMeta(ctx, sessionID, status, now, patch)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return apperrors.ServiceUnavailable("store", err)
	}
	return err
}

func (p *Postgres) updateWithColumns(ctx context.Context, sessionID, status string, now time.Time, patch *StatusPatch) error {
	set := []string{"status = $1", "last_seen = $2"}
	args := []interface{}{status, now}
	next := 3

	if patch.AssignedAgent != nil {
		set = append(set, fmt.Sprintf("assigned_agent = $%d", next))
		if *patch.AssignedAgent == "" {
			args = append(args, nil)
		} else {
			args = append(args, *patch.AssignedAgent)
		}
		next++
	}
	if patch.AIPaused != nil {
		set = append(set, fmt.Sprintf("ai_paused = $%d", next))
		args = append(args, *patch.AIPaused)
		next++
	}
	if patch.UserMeta != nil {
		metaJSON, err := marshalJSONMap(patch.UserMeta)
		if err != nil {
			return err
		}
		set = append(set, fmt.Sprintf("user_meta = $%d", next))
		args = append(args, metaJSON)
		next++
	}
	args = append(args, sessionID)

	tag, err := p.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE sessions SET %s WHERE session_id = $%d`, strings.Join(set, ", "), next), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) updateFoldedIntoMeta(ctx context.Context, sessionID, status string, now time.Time, patch *StatusPatch) error {
	sess, err := p.GetSession(ctx, sessionID)
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
	_, err = p.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, last_seen = $2, user_meta = $3 WHERE session_id = $4`,
		status, now, metaJSON, sessionID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func (p *Postgres) AssignAgent(ctx context.Context, sessionID, agentID string) error {
	sess, err := p.GetSession(ctx, sessionID)
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
	return p.UpdateSessionStatus(ctx, sessionID, StatusAgentAssigned, &StatusPatch{
		AssignedAgent: &agentID,
		AIPaused:      &paused,
		UserMeta:      meta,
	})
}

func (p *Postgres) CloseSession(ctx context.Context, sessionID string) error {
	return p.UpdateSessionStatus(ctx, sessionID, StatusClosed, nil)
}

func (p *Postgres) AppendMessage(ctx context.Context, params AppendMessageParams) (string, error) {
	if _, _, err := p.EnsureSession(ctx, params.SessionID, nil); err != nil {
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
	var encrypted, encryptedMeta *string
	if p.cipher != nil {
		ct, err := p.cipher.Encrypt(params.Text)
		if err != nil {
			return "", fmt.Errorf("encrypt message: %w", err)
		}
		cm, err := p.cipher.Encrypt(metaJSON)
		if err != nil {
			return "", fmt.Errorf("encrypt metadata: %w", err)
		}
		encrypted, encryptedMeta = &ct, &cm
		if p.cipher.RedactPlaintext {
			text = ""
			metaJSON = "{}"
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, sender, text, confidence, metadata, visibility, encrypted, encrypted_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, params.SessionID, params.Sender, text, params.Confidence, metaJSON, visibility, encrypted, encryptedMeta, now)
	if isUnknownColumnErr(err) {
		// Tables created before encryption support lack the ciphertext
		// columns, and they cannot hold ciphertext; the plaintext columns
		// carry the turn so persistence keeps working.
		_, err = p.pool.Exec(ctx, `
			INSERT INTO messages (id, session_id, sender, text, confidence, metadata, visibility, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, params.SessionID, params.Sender, params.Text, params.Confidence, plainMeta, visibility, now)
	}
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return id, nil
}

func (p *Postgres) ListMessages(ctx context.Context, sessionID string, opts ListMessagesOptions) ([]*Message, error) {
	order := "ASC"
	if strings.EqualFold(opts.Order, "desc") {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 || limit > maxScanRows {
		limit = maxScanRows
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, sender, text, confidence, metadata, visibility, encrypted, encrypted_metadata, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at `+order+`
		LIMIT $2 OFFSET $3
	`, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		msg := &Message{}
		var metaJSON []byte
		var encrypted, encryptedMeta *string

		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Text, &msg.Confidence,
			&metaJSON, &msg.Visibility, &encrypted, &encryptedMeta, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}

		meta := string(metaJSON)
		if p.cipher != nil && encrypted != nil && *encrypted != "" {
			plaintext, err := p.cipher.Decrypt(*encrypted)
			if err != nil {
				return nil, fmt.Errorf("decrypt message %s: %w", msg.ID, err)
			}
			msg.Text = plaintext
			if encryptedMeta != nil && *encryptedMeta != "" {
				meta, err = p.cipher.Decrypt(*encryptedMeta)
				if err != nil {
					return nil, fmt.Errorf("decrypt metadata %s: %w", msg.ID, err)
				}
			}
		}

		if err := unmarshalJSONMap(meta, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("deserialize metadata: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Postgres) SaveAccuracyRecord(ctx context.Context, rec *AccuracyRecord) (string, error) {
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

	_, err = p.pool.Exec(ctx, `
		INSERT INTO ai_accuracy (id, session_id, message_id, ai_text, confidence, latency_ms, tokens, response_type, human_mark, evaluation, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.SessionID, emptyToNil(rec.MessageID), rec.AIText, rec.Confidence,
		rec.LatencyMs, rec.Tokens, rec.ResponseType, emptyToNil(rec.HumanMark),
		emptyToNil(rec.Evaluation), metaJSON, rec.CreatedAt)
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return rec.ID, nil
}

func (p *Postgres) UpdateAccuracyFeedback(ctx context.Context, accuracyID, humanMark, evaluation string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE ai_accuracy SET human_mark = $1, evaluation = $2 WHERE id = $3`,
		emptyToNil(humanMark), emptyToNil(evaluation), accuracyID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendAccuracyAudit(ctx context.Context, audit *AccuracyAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.TS.IsZero() {
		audit.TS = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accuracy_audit (id, accuracy_id, admin_id, action, note, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, audit.ID, audit.AccuracyID, audit.AdminID, audit.Action, emptyToNil(audit.Note), audit.TS)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func (p *Postgres) ListCannedResponses(ctx context.Context, activeOnly bool) ([]*CannedResponse, error) {
	query := `SELECT id, shortcut, content, category, match_type, is_active, position FROM canned_responses`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY position ASC`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	defer rows.Close()

	var result []*CannedResponse
	for rows.Next() {
		cr := &CannedResponse{}
		if err := rows.Scan(&cr.ID, &cr.Shortcut, &cr.Content, &cr.Category, &cr.MatchType, &cr.IsActive, &cr.Position); err != nil {
			return nil, err
		}
		result = append(result, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Postgres) AppendNotification(ctx context.Context, n *Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO notifications (id, type, content, session_id, target_user_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.Type, n.Content, emptyToNil(n.SessionID), emptyToNil(n.TargetUserID), n.IsRead, n.CreatedAt)
	if err != nil {
		return "", apperrors.ServiceUnavailable("store", err)
	}
	return n.ID, nil
}

func (p *Postgres) GetUserByToken(ctx context.Context, token string) (*User, error) {
	return p.getUser(ctx, `token = $1`, token)
}

func (p *Postgres) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return p.getUser(ctx, `user_id = $1`, userID)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.getUser(ctx, `email = $1`, email)
}

func (p *Postgres) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	u := &User{}
	var rolesJSON, permsJSON []byte
	var token *string

	err := p.pool.QueryRow(ctx, `
		SELECT user_id, email, name, roles, account_status, permissions, token, created_at, updated_at
		FROM users WHERE `+where, arg).
		Scan(&u.UserID, &u.Email, &u.Name, &rolesJSON, &u.AccountStatus, &permsJSON, &token, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}

	if token != nil {
		u.Token = *token
	}
	if err := json.Unmarshal(rolesJSON, &u.Roles); err != nil {
		return nil, fmt.Errorf("deserialize roles: %w", err)
	}
	if err := json.Unmarshal(permsJSON, &u.Permissions); err != nil {
		return nil, fmt.Errorf("deserialize permissions: %w", err)
	}
	return u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
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

	_, err = p.pool.Exec(ctx, `
		INSERT INTO users (user_id, email, name, roles, account_status, permissions, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.UserID, u.Email, u.Name, rolesJSON, u.AccountStatus, permsJSON,
		emptyToNil(u.Token), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apperrors.Conflict("user already exists")
		}
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func (p *Postgres) ActiveLLMSetting(ctx context.Context) (*LLMSetting, error) {
	setting := &LLMSetting{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, provider, model, encrypted_api_key, base_url, is_active, health_status, last_error, updated_at
		FROM llm_settings WHERE is_active LIMIT 1
	`).Scan(&setting.ID, &setting.Provider, &setting.Model, &setting.EncryptedAPIKey,
		&setting.BaseURL, &setting.IsActive, &setting.HealthStatus, &setting.LastError, &setting.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable("store", err)
	}
	return setting, nil
}

func (p *Postgres) SetLLMHealth(ctx context.Context, settingID, healthStatus, lastError string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE llm_settings SET health_status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		healthStatus, lastError, time.Now().UTC(), settingID)
	if err != nil {
		return apperrors.ServiceUnavailable("store", err)
	}
	return nil
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
