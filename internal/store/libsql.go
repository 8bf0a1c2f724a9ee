package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/reivaj/flowstate/pkg/schema"
)

// LibSQLStore implements SessionStore, ContextStore, WorkflowStore, and
// MessageStore on a libSQL (embedded SQLite fork) database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/flowstate.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sessions ---

const sessionColumns = `id, conversation_id, company_id, agent_id, contact_id, channel,
	workflow_id, resume_node_id, variable_to_save, status, assignee_id, tags,
	is_ai_enabled, context, subworkflow_stack, created_at, updated_at, last_activity_at`

func (s *LibSQLStore) Create(ctx context.Context, session *Session) error {
	tags, err := marshalOrNil(session.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	contextJSON, err := marshalOrNil(session.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	stack, err := marshalOrNil(session.SubworkflowStack)
	if err != nil {
		return fmt.Errorf("marshal subworkflow_stack: %w", err)
	}
	if session.Status == "" {
		session.Status = schema.SessionStatusActive
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ConversationID, session.CompanyID,
		nullStr(session.AgentID), nullStr(session.ContactID), nullStr(session.Channel),
		nullStr(session.WorkflowID), nullStr(session.ResumeNodeID), nullStr(session.VariableToSave),
		string(session.Status), nullStr(session.AssigneeID), tags,
		session.IsAIEnabled, contextJSON, stack,
		timeOrNow(session.CreatedAt), timeOrNow(session.UpdatedAt), now,
	)
	return err
}

func (s *LibSQLStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	return session, err
}

func (s *LibSQLStore) GetByConversation(ctx context.Context, conversationID, companyID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE conversation_id = ? AND company_id = ?`,
		conversationID, companyID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", conversationID)
	}
	return session, err
}

func (s *LibSQLStore) Update(ctx context.Context, id string, update SessionUpdate) error {
	var sets []string
	var args []any

	if update.WorkflowID != nil {
		sets = append(sets, "workflow_id = ?")
		args = append(args, nullStr(*update.WorkflowID))
	}
	if update.ResumeNodeID != nil {
		sets = append(sets, "resume_node_id = ?")
		args = append(args, nullStr(*update.ResumeNodeID))
	}
	if update.VariableToSave != nil {
		sets = append(sets, "variable_to_save = ?")
		args = append(args, nullStr(*update.VariableToSave))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.AssigneeID != nil {
		sets = append(sets, "assignee_id = ?")
		args = append(args, nullStr(*update.AssigneeID))
	}
	if update.AgentID != nil {
		sets = append(sets, "agent_id = ?")
		args = append(args, nullStr(*update.AgentID))
	}
	if update.Tags != nil {
		tags, err := marshalOrNil(*update.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if update.IsAIEnabled != nil {
		sets = append(sets, "is_ai_enabled = ?")
		args = append(args, *update.IsAIEnabled)
	}
	if update.Context != nil {
		contextJSON, err := marshalOrNil(*update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, contextJSON)
	}
	if update.SubworkflowStack != nil {
		stack, err := marshalOrNil(*update.SubworkflowStack)
		if err != nil {
			return fmt.Errorf("marshal subworkflow_stack: %w", err)
		}
		sets = append(sets, "subworkflow_stack = ?")
		args = append(args, stack)
	}
	if update.TouchActivity {
		sets = append(sets, "last_activity_at = CURRENT_TIMESTAMP")
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) SetResumePoint(ctx context.Context, id, workflowID, resumeNodeID, variableToSave string) error {
	return s.Update(ctx, id, SessionUpdate{
		WorkflowID:     &workflowID,
		ResumeNodeID:   &resumeNodeID,
		VariableToSave: &variableToSave,
		TouchActivity:  true,
	})
}

func (s *LibSQLStore) SetSubworkflowStack(ctx context.Context, id string, stack []StackFrame) error {
	return s.Update(ctx, id, SessionUpdate{SubworkflowStack: &stack})
}

func (s *LibSQLStore) SetStatus(ctx context.Context, id string, status string) error {
	st := schema.SessionStatus(status)
	return s.Update(ctx, id, SessionUpdate{Status: &st})
}

func (s *LibSQLStore) SetAssignee(ctx context.Context, id, assigneeID string) error {
	return s.Update(ctx, id, SessionUpdate{AssigneeID: &assigneeID})
}

// AddTags merges the given tags into the session's tag list, deduplicated.
func (s *LibSQLStore) AddTags(ctx context.Context, id string, tags []string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := session.Tags
	for _, t := range tags {
		exists := false
		for _, have := range merged {
			if have == t {
				exists = true
				break
			}
		}
		if !exists {
			merged = append(merged, t)
		}
	}
	return s.Update(ctx, id, SessionUpdate{Tags: &merged})
}

func (s *LibSQLStore) ArchiveContext(ctx context.Context, id string, contextData map[string]any) error {
	return s.Update(ctx, id, SessionUpdate{Context: &contextData})
}

func (s *LibSQLStore) ListPausedBefore(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE resume_node_id IS NOT NULL AND last_activity_at < ?
		 ORDER BY last_activity_at ASC`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	session := &Session{}
	var (
		agentID, contactID, channel, workflowID  sql.NullString
		resumeNodeID, variableToSave, assigneeID sql.NullString
		tagsJSON, contextJSON, stackJSON         sql.NullString
		status                                   string
	)
	err := row.Scan(&session.ID, &session.ConversationID, &session.CompanyID,
		&agentID, &contactID, &channel,
		&workflowID, &resumeNodeID, &variableToSave, &status, &assigneeID, &tagsJSON,
		&session.IsAIEnabled, &contextJSON, &stackJSON,
		&session.CreatedAt, &session.UpdatedAt, &session.LastActivityAt)
	if err != nil {
		return nil, err
	}
	session.AgentID = agentID.String
	session.ContactID = contactID.String
	session.Channel = channel.String
	session.WorkflowID = workflowID.String
	session.ResumeNodeID = resumeNodeID.String
	session.VariableToSave = variableToSave.String
	session.AssigneeID = assigneeID.String
	session.Status = schema.SessionStatus(status)
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &session.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &session.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if stackJSON.Valid && stackJSON.String != "" {
		if err := json.Unmarshal([]byte(stackJSON.String), &session.SubworkflowStack); err != nil {
			return nil, fmt.Errorf("unmarshal subworkflow_stack: %w", err)
		}
	}
	return session, nil
}

// --- Context ---

func (s *LibSQLStore) GetAll(ctx context.Context, agentID, sessionID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM session_context WHERE agent_id = ? AND session_id = ?`,
		agentID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]any)
	for rows.Next() {
		var key string
		var raw sql.NullString
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		if !raw.Valid || raw.String == "" {
			values[key] = nil
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
			return nil, fmt.Errorf("unmarshal context key %q: %w", key, err)
		}
		values[key] = v
	}
	return values, rows.Err()
}

func (s *LibSQLStore) Set(ctx context.Context, agentID, sessionID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"context value for %q is not JSON-serializable", key).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_context (agent_id, session_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(agent_id, session_id, key) DO UPDATE SET
		   value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		agentID, sessionID, key, string(raw))
	return err
}

// SetAll upserts every entry inside one transaction so a partially-written
// context snapshot is never visible.
func (s *LibSQLStore) SetAll(ctx context.Context, agentID, sessionID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore,
				"context value for %q is not JSON-serializable", key).WithCause(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_context (agent_id, session_id, key, value, updated_at)
			 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(agent_id, session_id, key) DO UPDATE SET
			   value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
			agentID, sessionID, key, string(raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) Delete(ctx context.Context, agentID, sessionID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_context WHERE agent_id = ? AND session_id = ? AND key = ?`,
		agentID, sessionID, key)
	return err
}

func (s *LibSQLStore) DeleteAll(ctx context.Context, agentID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_context WHERE agent_id = ? AND session_id = ?`,
		agentID, sessionID)
	return err
}

// --- Workflows ---

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, agent_id, company_id, graph, version, active,
		        parent_workflow_id, intent_config, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) PutWorkflow(ctx context.Context, wf *Workflow) error {
	graph, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if wf.Version <= 0 {
		wf.Version = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, agent_id, company_id, graph, version,
		   active, parent_workflow_id, intent_config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, graph=excluded.graph,
		   version=excluded.version, active=excluded.active, intent_config=excluded.intent_config,
		   updated_at=CURRENT_TIMESTAMP`,
		wf.ID, wf.Name, nullStr(wf.Description), nullStr(wf.AgentID), nullStr(wf.CompanyID),
		string(graph), wf.Version, wf.Active, nullStr(wf.ParentWorkflowID),
		nullRaw(wf.IntentConfig), timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt))
	return err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *filter.Active)
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT id, name, description, agent_id, company_id, graph, version, active,
	                 parent_workflow_id, intent_config, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		description, agentID, companyID, parentID sql.NullString
		intentConfig                              sql.NullString
		graphJSON                                 string
	)
	err := row.Scan(&wf.ID, &wf.Name, &description, &agentID, &companyID, &graphJSON,
		&wf.Version, &wf.Active, &parentID, &intentConfig, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.AgentID = agentID.String
	wf.CompanyID = companyID.String
	wf.ParentWorkflowID = parentID.String
	wf.IntentConfig = rawOrNil(intentConfig)
	if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return wf, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []StackFrame:
		if len(val) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
