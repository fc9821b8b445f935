package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/utils"
)

// ClientRepository is the PostgreSQL implementation of the registry's durable
// store. The registry writes to it behind the request path; reads happen only
// at startup.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `client_id, kind, display_name, capabilities, metadata, status, status_reason,
	credential_public_id, secret_hash, trust_score,
	transaction_count, success_count, failure_count, avg_response_time_ms, reported_issue_count,
	rate_limit_ceiling, registered_at, last_active_at`

// Save upserts the client snapshot keyed by client_id.
func (r *ClientRepository) Save(ctx context.Context, c *models.Client) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (client_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			capabilities = EXCLUDED.capabilities,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			status_reason = EXCLUDED.status_reason,
			trust_score = EXCLUDED.trust_score,
			transaction_count = EXCLUDED.transaction_count,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			reported_issue_count = EXCLUDED.reported_issue_count,
			rate_limit_ceiling = EXCLUDED.rate_limit_ceiling,
			last_active_at = EXCLUDED.last_active_at`

	_, err = r.db.ExecContext(ctx, query,
		c.ClientID,
		string(c.Kind),
		c.DisplayName,
		pq.Array(c.Capabilities),
		meta,
		string(c.Status),
		c.StatusReason,
		c.CredentialPublicID,
		c.SecretHash,
		c.TrustScore,
		c.Reputation.TransactionCount,
		c.Reputation.SuccessCount,
		c.Reputation.FailureCount,
		c.Reputation.AverageResponseTimeMs,
		c.Reputation.ReportedIssueCount,
		c.RateLimitCeiling,
		c.RegisteredAt,
		c.LastActiveAt,
	)
	return err
}

// Load fetches a single client by id.
func (r *ClientRepository) Load(ctx context.Context, clientID string) (*models.Client, error) {
	stmt, err := r.db.PreparexContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1 LIMIT 1`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	c, err := scanClient(stmt.QueryRowxContext(ctx, clientID))
	if err == sql.ErrNoRows {
		return nil, utils.ErrNotFound
	}
	return c, err
}

// LoadAll fetches every persisted client, oldest registration first.
func (r *ClientRepository) LoadAll(ctx context.Context) ([]*models.Client, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// rowScanner covers both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanClient scans one row into a Client. capabilities uses pq.Array for the
// TEXT[] column; metadata is stored as JSONB.
func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var kind, status string
	var meta []byte
	if err := row.Scan(
		&c.ClientID,
		&kind,
		&c.DisplayName,
		pq.Array(&c.Capabilities),
		&meta,
		&status,
		&c.StatusReason,
		&c.CredentialPublicID,
		&c.SecretHash,
		&c.TrustScore,
		&c.Reputation.TransactionCount,
		&c.Reputation.SuccessCount,
		&c.Reputation.FailureCount,
		&c.Reputation.AverageResponseTimeMs,
		&c.Reputation.ReportedIssueCount,
		&c.RateLimitCeiling,
		&c.RegisteredAt,
		&c.LastActiveAt,
	); err != nil {
		return nil, err
	}
	c.Kind = models.ClientKind(kind)
	c.Status = models.ClientStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
