package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"carpulse/pkg/models"
)

// AddImage records an image URL for a model once. The first image of a
// model becomes its primary image. inserted is false for a duplicate.
func (r *Repo) AddImage(ctx context.Context, tx *sql.Tx, modelID int64, imageURL string) (inserted bool, err error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return false, nil
	}

	var existing int
	if err := r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`
		SELECT COUNT(*) FROM car_model_image WHERE model_id = ?
	`), modelID).Scan(&existing); err != nil {
		return false, fmt.Errorf("count images for %d: %w", modelID, err)
	}

	out, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO car_model_image (model_id, image_url, is_primary)
		VALUES (?, ?, ?)
		ON CONFLICT (model_id, image_url) DO NOTHING
	`), modelID, imageURL, existing == 0)
	if err != nil {
		return false, fmt.Errorf("insert image for %d: %w", modelID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert image rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) Images(ctx context.Context, modelID int64) ([]models.ModelImage, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
		SELECT image_id, model_id, image_url, is_primary, created_at
		FROM car_model_image
		WHERE model_id = ?
		ORDER BY is_primary DESC, image_id ASC
	`), modelID)
	if err != nil {
		return nil, fmt.Errorf("images query: %w", err)
	}
	defer rows.Close()

	var out []models.ModelImage
	for rows.Next() {
		var (
			img       models.ModelImage
			createdAt sql.NullTime
		)
		if err := rows.Scan(&img.ImageID, &img.ModelID, &img.ImageURL, &img.IsPrimary, &createdAt); err != nil {
			return nil, fmt.Errorf("images scan: %w", err)
		}
		if createdAt.Valid {
			img.CreatedAt = createdAt.Time
		} else {
			img.CreatedAt = time.Time{}
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
