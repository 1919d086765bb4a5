package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

type TagRepository struct {
	db *sql.DB
}

func NewTagRepository(db *sql.DB) *TagRepository {
	return &TagRepository{db: db}
}

// ListCandidates returns articles that carry no automatic tag yet.
func (r *TagRepository) ListCandidates(ctx context.Context) ([]domain.Article, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT a.id, a.sku, a.description, a.brand, a.package
FROM articles a
WHERE NOT EXISTS (
	SELECT 1 FROM article_tags t
	WHERE t.article_id = a.id AND t.method = 'automatic'
)
ORDER BY a.id
`)
	if err != nil {
		return nil, fmt.Errorf("query tagging candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.ID, &a.SKU, &a.Description, &a.Brand, &a.Package); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

func (r *TagRepository) BeginTagging(ctx context.Context) (ports.TagTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapWriteError("begin tagging tx", err)
	}
	return &tagTx{tx: tx}, nil
}

type tagTx struct {
	tx *sql.Tx
}

// SyncTags makes sure every dictionary label exists and points at its parent.
// Labels that left the dictionary are kept: existing assignments still refer to them.
func (t *tagTx) SyncTags(ctx context.Context, dict domain.TagDictionary) (map[string]int64, error) {
	ids := make(map[string]int64, len(dict.Entries))
	for _, e := range dict.Entries {
		label := strings.TrimSpace(e.Label)
		var id int64
		err := t.tx.QueryRowContext(ctx, `
INSERT INTO tags (label) VALUES ($1)
ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
RETURNING id
`, label).Scan(&id)
		if err != nil {
			return nil, mapWriteError("upsert tag "+label, err)
		}
		ids[label] = id
	}

	for _, e := range dict.Entries {
		label := strings.TrimSpace(e.Label)
		var parent sql.NullInt64
		if p := strings.TrimSpace(e.Parent); p != "" {
			id, ok := lookupFolded(ids, p)
			if !ok {
				return nil, domain.WrapError(domain.ErrDictionary, "sync tags", fmt.Errorf("unknown parent %q", p))
			}
			parent = sql.NullInt64{Int64: id, Valid: true}
		}
		if _, err := t.tx.ExecContext(ctx, `UPDATE tags SET parent_id = $2 WHERE id = $1`, ids[label], parent); err != nil {
			return nil, mapWriteError("set tag parent "+label, err)
		}
	}
	return ids, nil
}

func lookupFolded(ids map[string]int64, label string) (int64, bool) {
	if id, ok := ids[label]; ok {
		return id, true
	}
	folded := domain.FoldText(label)
	for l, id := range ids {
		if domain.FoldText(l) == folded {
			return id, true
		}
	}
	return 0, false
}

func (t *tagTx) ArticleBySKU(ctx context.Context, sku string) (domain.Article, error) {
	var a domain.Article
	err := t.tx.QueryRowContext(ctx, `
SELECT id, sku, description, brand, package FROM articles WHERE sku = $1
`, sku).Scan(&a.ID, &a.SKU, &a.Description, &a.Brand, &a.Package)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, domain.WrapError(domain.ErrNotFound, "article by sku", fmt.Errorf("sku %s", sku))
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("article by sku: %w", err)
	}
	return a, nil
}

func (t *tagTx) TagByLabel(ctx context.Context, label string) (domain.Tag, error) {
	var tag domain.Tag
	err := t.tx.QueryRowContext(ctx, `
SELECT t.id, t.label, COALESCE(p.label, '')
FROM tags t
LEFT JOIN tags p ON p.id = t.parent_id
WHERE t.label = $1
`, label).Scan(&tag.ID, &tag.Label, &tag.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, domain.WrapError(domain.ErrNotFound, "tag by label", fmt.Errorf("label %s", label))
	}
	if err != nil {
		return domain.Tag{}, fmt.Errorf("tag by label: %w", err)
	}
	return tag, nil
}

// AssignTag is a no-op when the article already carries the tag, whatever
// method put it there.
func (t *tagTx) AssignTag(ctx context.Context, at domain.ArticleTag) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO article_tags (article_id, tag_id, confidence, method, assigned_at, run_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (article_id, tag_id) DO NOTHING
`, at.ArticleID, at.TagID, at.Confidence, string(at.Method), at.AssignedAt, at.RunID)
	if err != nil {
		return false, mapWriteError("assign tag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign tag rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *tagTx) SaveReview(ctx context.Context, r domain.AmbiguousMatch) error {
	candidates, err := json.Marshal(r.Candidates)
	if err != nil {
		return fmt.Errorf("marshal review candidates: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO tag_reviews (article_id, suggested_label, score, reason, candidates, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (article_id) DO UPDATE SET
	suggested_label = EXCLUDED.suggested_label,
	score = EXCLUDED.score,
	reason = EXCLUDED.reason,
	candidates = EXCLUDED.candidates,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at
`, r.ArticleID, r.SuggestedLabel, r.Score, string(r.Reason), candidates, r.RunID, r.UpdatedAt)
	if err != nil {
		return mapWriteError("save review", err)
	}
	return nil
}

func (t *tagTx) ClearReviews(ctx context.Context, articleIDs []int64) error {
	if len(articleIDs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tag_reviews WHERE article_id = ANY($1)`, pq.Array(articleIDs)); err != nil {
		return mapWriteError("clear reviews", err)
	}
	return nil
}

func (t *tagTx) Commit() error {
	return mapWriteError("commit tagging tx", t.tx.Commit())
}

func (t *tagTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tagging tx: %w", err)
	}
	return nil
}
