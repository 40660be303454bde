package repo

import (
	"context"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

// ListByJobID returns all assets belonging to the job.
func (r *AssetRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Asset, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectAssetsByJobID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.JobID, &a.OwnerID, &a.SourceURL, &a.StorageKey, &a.URL, &a.MIME, &a.Bytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

// SaveAll persists a list of assets. Asset ids are derived from the job and output index,
// so replaying a save is harmless.
func (r *AssetRepositoryPG) SaveAll(ctx context.Context, assets []domain.Asset) error {
	for _, a := range assets {
		if _, err := r.sql.Exec(ctx, sqlinline.QInsertAsset,
			a.ID,
			a.JobID,
			a.OwnerID,
			a.SourceURL,
			a.StorageKey,
			a.URL,
			a.MIME,
			a.Bytes,
			a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.AssetRepository = (*AssetRepositoryPG)(nil)
