package pgsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portsrepo "github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
	"github.com/SscSPs/bearer_gate/internal/models"
	"github.com/SscSPs/bearer_gate/internal/utils/mapping"
	"github.com/SscSPs/bearer_gate/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	apiTokensTable = "api_tokens"

	// changeChannel is the LISTEN/NOTIFY channel announcing committed writes.
	changeChannel = "api_tokens_changed"

	selectAPITokenFields = `token_hash, client_id, issued_at, expires_at, last_used_at, revoked`

	lockAPITokensQuery   = `LOCK TABLE ` + apiTokensTable + ` IN EXCLUSIVE MODE`
	selectAPITokensQuery = `SELECT ` + selectAPITokenFields + ` FROM ` + apiTokensTable
	deleteAPITokensQuery = `DELETE FROM ` + apiTokensTable
	notifyChangeQuery    = `SELECT pg_notify('` + changeChannel + `', $1)`
	listenChangeQuery    = `LISTEN ` + changeChannel
	unlistenQuery        = `UNLISTEN *`
)

var apiTokenColumns = []string{"token_hash", "client_id", "issued_at", "expires_at", "last_used_at", "revoked"}

// TokenPersister keeps the token set in the api_tokens table.
// Each Save replaces the table contents inside one transaction holding an
// exclusive table lock, so concurrent writers serialize and readers see
// either the old or the new set.
type TokenPersister struct {
	BaseRepository
	logger *slog.Logger
	// instanceID tags our own notifications so Watch can skip them.
	instanceID string
}

var (
	_ portsrepo.TokenPersister      = (*TokenPersister)(nil)
	_ portsrepo.TokenChangeNotifier = (*TokenPersister)(nil)
)

// NewTokenPersister creates a persister over an open pool. The persister owns
// the pool and closes it in Close.
func NewTokenPersister(pool *pgxpool.Pool, logger *slog.Logger) *TokenPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenPersister{
		BaseRepository: BaseRepository{Pool: pool},
		logger:         logger,
		instanceID:     uuid.NewString(),
	}
}

// Load reads every row.
func (p *TokenPersister) Load(ctx context.Context) ([]domain.TokenMetadata, error) {
	rows, err := p.Pool.Query(ctx, selectAPITokensQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query tokens: %w", apperrors.ErrStoreIO, err)
	}
	return collectTokens(rows)
}

// Save merges records with the table contents and rewrites the table.
func (p *TokenPersister) Save(ctx context.Context, records []domain.TokenMetadata) (saved []domain.TokenMetadata, err error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rbErr := p.Rollback(ctx, tx); rbErr != nil && err == nil {
			err = rbErr
		}
	}()

	if _, err := tx.Exec(ctx, lockAPITokensQuery); err != nil {
		return nil, fmt.Errorf("%w: lock tokens table: %w", apperrors.ErrStoreIO, err)
	}

	rows, err := tx.Query(ctx, selectAPITokensQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query tokens: %w", apperrors.ErrStoreIO, err)
	}
	current, err := collectTokens(rows)
	if err != nil {
		return nil, err
	}
	merged := domain.MergeTokenSets(records, current)

	if _, err := tx.Exec(ctx, deleteAPITokensQuery); err != nil {
		return nil, fmt.Errorf("%w: clear tokens table: %w", apperrors.ErrStoreIO, err)
	}

	copyRows := make([][]any, 0, len(merged))
	for _, rec := range merged {
		m := mapping.ToModelAPIToken(rec)
		copyRows = append(copyRows, []any{m.TokenHash, m.ClientID, m.IssuedAt, m.ExpiresAt, m.LastUsedAt, m.Revoked})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{apiTokensTable}, apiTokenColumns, pgx.CopyFromRows(copyRows)); err != nil {
		return nil, fmt.Errorf("%w: copy tokens: %w", apperrors.ErrStoreIO, err)
	}

	if _, err := tx.Exec(ctx, notifyChangeQuery, p.instanceID); err != nil {
		return nil, fmt.Errorf("%w: notify change: %w", apperrors.ErrStoreIO, err)
	}

	if err := p.Commit(ctx, tx); err != nil {
		return nil, err
	}
	return merged, nil
}

// Watch listens for commits made by other processes until ctx is done.
func (p *TokenPersister) Watch(ctx context.Context, onChange func()) error {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgsql: acquire listen connection: %w", err)
	}
	defer func() {
		// The connection goes back to the pool, so drop the subscription first.
		_, _ = conn.Exec(context.Background(), unlistenQuery)
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, listenChangeQuery); err != nil {
		return fmt.Errorf("pgsql: listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pgsql: wait for notification: %w", err)
		}
		if n.Payload == p.instanceID {
			continue
		}
		p.logger.Info("Token table changed by another process")
		onChange()
	}
}

// Close closes the pool.
func (p *TokenPersister) Close() error {
	database.ClosePgxPool(p.Pool)
	return nil
}

// collectTokens maps rows to tokens. A row that cannot be decoded is reported
// as ErrCorruptStore; failures reading the result set are ErrStoreIO.
func collectTokens(rows pgx.Rows) ([]domain.TokenMetadata, error) {
	tokens, err := pgx.CollectRows(rows, scanToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []domain.TokenMetadata{}, nil
		}
		if errors.Is(err, apperrors.ErrCorruptStore) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read tokens: %w", apperrors.ErrStoreIO, err)
	}
	return mapping.ToDomainAPITokenSlice(tokens), nil
}

func scanToken(row pgx.CollectableRow) (models.APIToken, error) {
	token, err := pgx.RowToStructByName[models.APIToken](row)
	if err != nil {
		return token, fmt.Errorf("%w: decode %s row: %w", apperrors.ErrCorruptStore, apiTokensTable, err)
	}
	return token, nil
}
