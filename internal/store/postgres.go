package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/moduly/engine/internal/model"
)

// PostgresStore is a jackc/pgx + pgvector backed Store. Tables are created
// on first connect if absent, following graph/store/sqlite.go's SQLiteStore
// create-tables-on-open convention; the schema itself is new since the
// that store has no notion of runs/graphs/knowledge bases.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			deployment_id TEXT,
			deployment_version INT,
			trigger TEXT NOT NULL,
			status TEXT NOT NULL,
			input JSONB,
			output JSONB,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			duration_seconds DOUBLE PRECISION,
			usage JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS node_runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs JSONB,
			outputs JSONB,
			process_data JSONB,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_runs_run_id ON node_runs(run_id)`,
		`CREATE TABLE IF NOT EXISTS graphs (
			workflow_id TEXT PRIMARY KEY,
			nodes JSONB NOT NULL,
			edges JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL,
			version INT NOT NULL,
			graph_snapshot JSONB NOT NULL,
			input_schema JSONB,
			output_schema JSONB,
			url_slug TEXT UNIQUE,
			type TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT false,
			cron_expr TEXT,
			timezone TEXT,
			last_run TIMESTAMPTZ,
			next_run TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			embedding_dims INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			knowledge_base_id TEXT NOT NULL REFERENCES knowledge_bases(id),
			source_type TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			source_config JSONB,
			UNIQUE(knowledge_base_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id),
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			position INT NOT NULL,
			token_count INT NOT NULL,
			metadata JSONB,
			embedding vector
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			encrypted_key TEXT NOT NULL,
			is_verified BOOLEAN NOT NULL DEFAULT false,
			UNIQUE(user_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT PRIMARY KEY,
			executed JSONB NOT NULL,
			results JSONB NOT NULL,
			handles JSONB NOT NULL,
			idempotency_key TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertRun(ctx context.Context, r model.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, workflow_id, user_id, deployment_id, deployment_version, trigger, status, input, output, error_message, started_at, finished_at, duration_seconds, usage)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at,
			duration_seconds = EXCLUDED.duration_seconds,
			usage = EXCLUDED.usage
	`, r.ID, r.WorkflowID, r.UserID, r.DeploymentID, r.DeploymentVersion, r.Trigger, r.Status,
		jsonOrNil(r.Input), jsonOrNil(r.Output), r.ErrorMessage, r.StartedAt, r.FinishedAt, r.DurationSeconds, jsonOrNil(r.Usage))
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (model.Run, error) {
	var r model.Run
	row := s.pool.QueryRow(ctx, `SELECT id, workflow_id, user_id, trigger, status, started_at, finished_at, duration_seconds FROM runs WHERE id=$1`, id)
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.UserID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt, &r.DurationSeconds); err != nil {
		if err == pgx.ErrNoRows {
			return r, ErrNotFound
		}
		return r, err
	}
	return r, nil
}

func (s *PostgresStore) UpsertNodeRun(ctx context.Context, nr model.NodeRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO node_runs (id, run_id, node_id, node_type, status, inputs, outputs, process_data, error_message, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outputs = EXCLUDED.outputs,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at
	`, nr.ID, nr.RunID, nr.NodeID, nr.NodeType, nr.Status, jsonOrNil(nr.Inputs), jsonOrNil(nr.Outputs), jsonOrNil(nr.ProcessData), nr.ErrorMessage, nr.StartedAt, nr.FinishedAt)
	return err
}

func (s *PostgresStore) ListNodeRuns(ctx context.Context, runID string) ([]model.NodeRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, run_id, node_id, node_type, status, started_at, finished_at FROM node_runs WHERE run_id=$1 ORDER BY started_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.NodeRun
	for rows.Next() {
		var nr model.NodeRun
		if err := rows.Scan(&nr.ID, &nr.RunID, &nr.NodeID, &nr.NodeType, &nr.Status, &nr.StartedAt, &nr.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, nr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveGraph(ctx context.Context, workflowID string, g model.Graph) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graphs (workflow_id, nodes, edges) VALUES ($1,$2,$3)
		ON CONFLICT (workflow_id) DO UPDATE SET nodes = EXCLUDED.nodes, edges = EXCLUDED.edges
	`, workflowID, jsonOrNil(g.Nodes), jsonOrNil(g.Edges))
	return err
}

func (s *PostgresStore) LoadGraph(ctx context.Context, workflowID string) (model.Graph, error) {
	var g model.Graph
	row := s.pool.QueryRow(ctx, `SELECT nodes, edges FROM graphs WHERE workflow_id=$1`, workflowID)
	if err := row.Scan(jsonDest(&g.Nodes), jsonDest(&g.Edges)); err != nil {
		if err == pgx.ErrNoRows {
			return g, ErrNotFound
		}
		return g, err
	}
	return g, nil
}

func (s *PostgresStore) SaveDeployment(ctx context.Context, d model.Deployment) error {
	var cron, tz string
	if d.Schedule != nil {
		cron, tz = d.Schedule.CronExpr, d.Schedule.Timezone
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployments (id, app_id, version, graph_snapshot, input_schema, output_schema, url_slug, type, active, cron_expr, timezone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active, version = EXCLUDED.version, graph_snapshot = EXCLUDED.graph_snapshot
	`, d.ID, d.AppID, d.Version, jsonOrNil(d.GraphSnapshot), jsonOrNil(d.InputSchema), jsonOrNil(d.OutputSchema), d.URLSlug, d.Type, d.Active, cron, tz)
	return err
}

func (s *PostgresStore) LoadDeployment(ctx context.Context, id string) (model.Deployment, error) {
	return s.loadDeploymentWhere(ctx, "id=$1", id)
}

func (s *PostgresStore) LoadDeploymentBySlug(ctx context.Context, slug string) (model.Deployment, error) {
	return s.loadDeploymentWhere(ctx, "url_slug=$1", slug)
}

func (s *PostgresStore) loadDeploymentWhere(ctx context.Context, pred string, arg interface{}) (model.Deployment, error) {
	var d model.Deployment
	row := s.pool.QueryRow(ctx, `SELECT id, app_id, version, url_slug, type, active FROM deployments WHERE `+pred, arg)
	if err := row.Scan(&d.ID, &d.AppID, &d.Version, &d.URLSlug, &d.Type, &d.Active); err != nil {
		if err == pgx.ErrNoRows {
			return d, ErrNotFound
		}
		return d, err
	}
	return d, nil
}

func (s *PostgresStore) ActiveSchedules(ctx context.Context) ([]model.Deployment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, app_id, version, url_slug, type, active, cron_expr, timezone FROM deployments WHERE active AND cron_expr IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Deployment
	for rows.Next() {
		var d model.Deployment
		var cron, tz string
		if err := rows.Scan(&d.ID, &d.AppID, &d.Version, &d.URLSlug, &d.Type, &d.Active, &cron, &tz); err != nil {
			return nil, err
		}
		d.Schedule = &model.Schedule{CronExpr: cron, Timezone: tz}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, id string) (model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	row := s.pool.QueryRow(ctx, `SELECT id, name, embedding_model, embedding_dims FROM knowledge_bases WHERE id=$1`, id)
	if err := row.Scan(&kb.ID, &kb.Name, &kb.EmbeddingModel, &kb.EmbeddingDims); err != nil {
		if err == pgx.ErrNoRows {
			return kb, ErrNotFound
		}
		return kb, err
	}
	return kb, nil
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc model.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, knowledge_base_id, source_type, content_hash, status, source_config)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, content_hash = EXCLUDED.content_hash
	`, doc.ID, doc.KnowledgeBaseID, doc.SourceType, doc.ContentHash, doc.Status, jsonOrNil(doc.SourceConfig))
	return err
}

func (s *PostgresStore) GetDocumentByHash(ctx context.Context, kbID, contentHash string) (model.Document, bool, error) {
	var doc model.Document
	row := s.pool.QueryRow(ctx, `SELECT id, knowledge_base_id, source_type, content_hash, status FROM documents WHERE knowledge_base_id=$1 AND content_hash=$2`, kbID, contentHash)
	if err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.SourceType, &doc.ContentHash, &doc.Status); err != nil {
		if err == pgx.ErrNoRows {
			return doc, false, nil
		}
		return doc, false, err
	}
	return doc, true, nil
}

// DeleteDocumentChunks and InsertChunks are called together by the
// retrieval service's delete+insert swap (spec.md §4.4). Each runs on its
// own against the pool; PostgresStore offers no transaction spanning the
// pair.
func (s *PostgresStore) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID)
	return err
}

func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []model.DocumentChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, content, content_hash, position, token_count, metadata, embedding)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, c.ID, c.DocumentID, c.Content, c.ContentHash, c.Position, c.TokenCount, jsonOrNil(c.Metadata), pgvector.NewVector(c.Embedding))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) VectorSearch(ctx context.Context, kbID string, query []float32, topK int) ([]ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.content_hash, c.position, c.token_count, 1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.knowledge_base_id = $2
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(query), kbID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.Content, &sc.Chunk.ContentHash, &sc.Chunk.Position, &sc.Chunk.TokenCount, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCredential(ctx context.Context, userID, provider string) (model.Credential, error) {
	var c model.Credential
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, provider, encrypted_key, is_verified FROM credentials WHERE user_id=$1 AND provider=$2`, userID, provider)
	if err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.EncryptedKey, &c.IsVerified); err != nil {
		if err == pgx.ErrNoRows {
			return c, ErrNotFound
		}
		return c, err
	}
	return c, nil
}

func (s *PostgresStore) ListVerified(ctx context.Context, userID string) ([]model.Credential, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, provider, encrypted_key, is_verified FROM credentials WHERE user_id=$1 AND is_verified`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Credential
	for rows.Next() {
		var c model.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.EncryptedKey, &c.IsVerified); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCheckpoint upserts a run's checkpoint keyed by run_id, skipping the
// write entirely when idempotency_key is unchanged (the engine calls this
// after every node completion; most of those writes would otherwise
// re-serialize an identical results map under concurrent nodes finishing in
// the same scheduler tick).
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (run_id, executed, results, handles, idempotency_key, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (run_id) DO UPDATE SET
			executed = EXCLUDED.executed,
			results = EXCLUDED.results,
			handles = EXCLUDED.handles,
			idempotency_key = EXCLUDED.idempotency_key,
			updated_at = EXCLUDED.updated_at
		WHERE checkpoints.idempotency_key != EXCLUDED.idempotency_key
	`, cp.RunID, jsonOrNil(cp.Executed), jsonOrNil(cp.Results), jsonOrNil(cp.Handles), cp.IdempotencyKey, cp.UpdatedAt)
	return err
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error) {
	var cp model.Checkpoint
	row := s.pool.QueryRow(ctx, `SELECT run_id, executed, results, handles, idempotency_key, updated_at FROM checkpoints WHERE run_id=$1`, runID)
	if err := row.Scan(&cp.RunID, jsonDest(&cp.Executed), jsonDest(&cp.Results), jsonDest(&cp.Handles), &cp.IdempotencyKey, &cp.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return cp, false, nil
		}
		return cp, false, err
	}
	return cp, true, nil
}
