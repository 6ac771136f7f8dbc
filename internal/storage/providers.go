package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/manabu/internal/apperr"
	"github.com/hyperjump/manabu/internal/models"
)

const providerColumns = `id, name, description, type, config, status, priority, is_default, created_at, updated_at`

func scanProvider(row rowScanner) (*models.Provider, error) {
	var p models.Provider
	var description, cfg sql.NullString
	var isDefault int
	err := row.Scan(&p.ID, &p.Name, &description, &p.Type, &cfg, &p.Status, &p.Priority, &isDefault,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.IsDefault = isDefault != 0
	if err := unmarshalJSON(cfg, &p.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider config: %w", err)
	}
	return &p, nil
}

// CreateProvider inserts a provider. A provider created as default clears the flag on the others.
func (s *SQLStorage) CreateProvider(ctx context.Context, p *models.Provider) error {
	cfgJSON, err := marshalJSON(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}
	ts := now()
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE providers SET is_default = 0 WHERE is_default = 1`)); err != nil {
				return fmt.Errorf("failed to clear default provider: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.Name, p.Description, p.Type, cfgJSON, p.Status, p.Priority, boolToInt(p.IsDefault),
			p.CreatedAt, p.UpdatedAt)
		if isUniqueViolation(err) {
			return apperr.Conflict("provider name already exists: %s", p.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to insert provider: %w", err)
		}
		return nil
	})
}

// GetProvider returns a provider by id.
func (s *SQLStorage) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("provider", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// UpdateProvider stores every mutable field of p.
func (s *SQLStorage) UpdateProvider(ctx context.Context, p *models.Provider) error {
	cfgJSON, err := marshalJSON(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}
	p.UpdatedAt = now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE providers SET is_default = 0 WHERE id <> ?`), p.ID); err != nil {
				return fmt.Errorf("failed to clear default provider: %w", err)
			}
		}
		result, err := tx.ExecContext(ctx, s.q(
			`UPDATE providers SET name = ?, description = ?, type = ?, config = ?, status = ?, priority = ?,
			 is_default = ?, updated_at = ? WHERE id = ?`),
			p.Name, p.Description, p.Type, cfgJSON, p.Status, p.Priority, boolToInt(p.IsDefault), p.UpdatedAt, p.ID)
		if isUniqueViolation(err) {
			return apperr.Conflict("provider name already exists: %s", p.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to update provider: %w", err)
		}
		return expectAffected(result, "provider", p.ID)
	})
}

// DeleteProvider removes a provider.
func (s *SQLStorage) DeleteProvider(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM providers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return expectAffected(result, "provider", id)
}

// ListProviders returns all providers by priority descending, then name.
func (s *SQLStorage) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+providerColumns+` FROM providers ORDER BY priority DESC, name ASC`))
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var list []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DefaultProvider returns the active default, else the highest priority active provider.
func (s *SQLStorage) DefaultProvider(ctx context.Context) (*models.Provider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+providerColumns+` FROM providers WHERE status = ?
		 ORDER BY is_default DESC, priority DESC, name ASC LIMIT 1`), models.ProviderActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default provider: %w", err)
	}
	return p, nil
}

// SetDefaultProvider clears the default flag everywhere and sets it on id.
func (s *SQLStorage) SetDefaultProvider(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE providers SET is_default = 0 WHERE is_default = 1`)); err != nil {
			return fmt.Errorf("failed to clear default provider: %w", err)
		}
		result, err := tx.ExecContext(ctx, s.q(
			`UPDATE providers SET is_default = 1, updated_at = ? WHERE id = ?`), now(), id)
		if err != nil {
			return fmt.Errorf("failed to set default provider: %w", err)
		}
		return expectAffected(result, "provider", id)
	})
}
