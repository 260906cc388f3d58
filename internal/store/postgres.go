package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hash/api/internal/entity"
	"hash/api/internal/link"
	"hash/api/internal/save"
	"hash/api/internal/systemtypes"
	"hash/api/internal/util"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db    *sql.DB
	types *systemtypes.Registry
}

func NewPostgresStore(db *sql.DB, types *systemtypes.Registry) *PostgresStore {
	return &PostgresStore{db: db, types: types}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(w pgWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(pgWriter{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnsureSystemTypes loads the system entity types seeded by the migrations
// and initialises the registry with them.
func (s *PostgresStore) EnsureSystemTypes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, entity_type_id FROM entity_types WHERE is_system`)
	if err != nil {
		return fmt.Errorf("load system types: %w", err)
	}
	defer rows.Close()

	ids := map[systemtypes.Name]string{}
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return fmt.Errorf("scan system type: %w", err)
		}
		ids[systemtypes.Name(name)] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate system types: %w", err)
	}
	return s.types.Init(ids)
}

// pgWriter runs entity writes against a connection or transaction.
type pgWriter struct {
	q querier
}

func (w pgWriter) createEntity(ctx context.Context, params CreateEntityParams) (entity.Entity, error) {
	if err := params.Properties.Validate(); err != nil {
		return entity.Entity{}, err
	}
	props, err := encodeProperties(params.Properties)
	if err != nil {
		return entity.Entity{}, err
	}
	e := entity.Entity{
		AccountID:       params.AccountID,
		EntityID:        util.NewID(""),
		EntityVersionID: util.NewID(""),
		EntityTypeID:    params.EntityTypeID,
		Versioned:       params.Versioned,
		Properties:      params.Properties,
	}

	if _, err := w.q.ExecContext(ctx, `
		INSERT INTO entities (account_id, entity_id, entity_type_id, versioned, latest_version_id)
		VALUES ($1, $2, $3, $4, $5)
	`, e.AccountID, e.EntityID, e.EntityTypeID, e.Versioned, e.EntityVersionID); err != nil {
		return entity.Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	if err := w.q.QueryRowContext(ctx, `
		INSERT INTO entity_versions (entity_version_id, account_id, entity_id, versioned, kind, properties)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at
	`, e.EntityVersionID, e.AccountID, e.EntityID, e.Versioned, string(e.Kind), props).Scan(&e.CreatedAt); err != nil {
		return entity.Entity{}, fmt.Errorf("insert entity version: %w", err)
	}
	return e, nil
}

func (w pgWriter) latestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error) {
	e, err := scanEntity(w.q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities e
		JOIN entity_versions v ON v.entity_version_id = e.latest_version_id
		WHERE e.account_id = $1 AND e.entity_id = $2
	`, accountID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", entityID, err)
	}
	return &e, nil
}

func (w pgWriter) updateProperties(ctx context.Context, current entity.Entity, props entity.Properties) (entity.Entity, error) {
	return w.newVersion(ctx, current, props, "")
}

// newVersion writes props to current. Versioned entities get a new version
// and every link valid for the previous latest version, except dropLinkID,
// is carried forward to it.
func (w pgWriter) newVersion(ctx context.Context, current entity.Entity, props entity.Properties, dropLinkID string) (entity.Entity, error) {
	if err := props.Validate(); err != nil {
		return entity.Entity{}, err
	}
	encoded, err := encodeProperties(props)
	if err != nil {
		return entity.Entity{}, err
	}
	latest, err := w.latestVersion(ctx, current.AccountID, current.EntityID)
	if err != nil {
		return entity.Entity{}, err
	}
	if latest == nil {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", current.EntityID, ErrNotFound)
	}

	next := *latest
	next.Properties = props
	if !latest.Versioned {
		if _, err := w.q.ExecContext(ctx, `
			UPDATE entity_versions SET kind = $1, properties = $2::jsonb
			WHERE entity_version_id = $3
		`, string(props.Kind), encoded, latest.EntityVersionID); err != nil {
			return entity.Entity{}, fmt.Errorf("update entity %s: %w", latest.EntityID, err)
		}
		return next, nil
	}

	next.EntityVersionID = util.NewID("")
	if err := w.q.QueryRowContext(ctx, `
		INSERT INTO entity_versions (entity_version_id, account_id, entity_id, versioned, kind, properties)
		VALUES ($1, $2, $3, TRUE, $4, $5::jsonb)
		RETURNING created_at
	`, next.EntityVersionID, next.AccountID, next.EntityID, string(props.Kind), encoded).Scan(&next.CreatedAt); err != nil {
		return entity.Entity{}, fmt.Errorf("insert entity version: %w", err)
	}
	if _, err := w.q.ExecContext(ctx, `
		UPDATE entities SET latest_version_id = $1 WHERE account_id = $2 AND entity_id = $3
	`, next.EntityVersionID, next.AccountID, next.EntityID); err != nil {
		return entity.Entity{}, fmt.Errorf("advance entity %s: %w", next.EntityID, err)
	}
	if _, err := w.q.ExecContext(ctx, `
		INSERT INTO link_source_versions (account_id, link_id, src_entity_version_id)
		SELECT account_id, link_id, $1::text
		FROM link_source_versions
		WHERE src_entity_version_id = $2 AND link_id <> $3
	`, next.EntityVersionID, latest.EntityVersionID, dropLinkID); err != nil {
		return entity.Entity{}, fmt.Errorf("carry links to %s: %w", next.EntityVersionID, err)
	}
	return next, nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, params CreateEntityParams) (entity.Entity, error) {
	var created entity.Entity
	err := s.withTx(ctx, func(w pgWriter) error {
		var err error
		created, err = w.createEntity(ctx, params)
		return err
	})
	return created, err
}

func (s *PostgresStore) GetEntityLatestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error) {
	return pgWriter{q: s.db}.latestVersion(ctx, accountID, entityID)
}

func (s *PostgresStore) GetEntityVersion(ctx context.Context, accountID, entityVersionID string) (*entity.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entity_versions v
		JOIN entities e ON e.account_id = v.account_id AND e.entity_id = v.entity_id
		WHERE v.account_id = $1 AND v.entity_version_id = $2
	`, accountID, entityVersionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity version %s: %w", entityVersionID, err)
	}
	return &e, nil
}

// EntityVersions lists the version ids of an entity, oldest first.
func (s *PostgresStore) EntityVersions(ctx context.Context, accountID, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_version_id FROM entity_versions
		WHERE account_id = $1 AND entity_id = $2
		ORDER BY created_at, entity_version_id
	`, accountID, entityID)
	if err != nil {
		return nil, fmt.Errorf("list entity versions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity version: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpdateEntityProperties(ctx context.Context, e entity.Entity, props entity.Properties) (entity.Entity, error) {
	var updated entity.Entity
	err := s.withTx(ctx, func(w pgWriter) error {
		var err error
		updated, err = w.updateProperties(ctx, e, props)
		return err
	})
	return updated, err
}

func (s *PostgresStore) CreateLink(ctx context.Context, params link.CreateParams) (link.Record, error) {
	record := link.Record{
		AccountID:           params.AccountID,
		LinkID:              util.NewID(""),
		Path:                params.Path,
		SrcAccountID:        params.SrcAccountID,
		SrcEntityID:         params.SrcEntityID,
		SrcEntityVersionIDs: append([]string(nil), params.SrcEntityVersionIDs...),
		DstAccountID:        params.DstAccountID,
		DstEntityID:         params.DstEntityID,
		DstEntityVersionID:  params.DstEntityVersionID,
	}
	err := s.withTx(ctx, func(w pgWriter) error {
		if err := w.q.QueryRowContext(ctx, `
			INSERT INTO links (account_id, link_id, path, src_account_id, src_entity_id, dst_account_id, dst_entity_id, dst_entity_version_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, record.AccountID, record.LinkID, record.Path, record.SrcAccountID, record.SrcEntityID,
			record.DstAccountID, record.DstEntityID, nullString(record.DstEntityVersionID)).Scan(&record.CreatedAt); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
		for _, versionID := range record.SrcEntityVersionIDs {
			if _, err := w.q.ExecContext(ctx, `
				INSERT INTO link_source_versions (account_id, link_id, src_entity_version_id)
				VALUES ($1, $2, $3)
			`, record.AccountID, record.LinkID, versionID); err != nil {
				return fmt.Errorf("insert link source version: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return link.Record{}, err
	}
	return record, nil
}

func (w pgWriter) linkVersions(ctx context.Context, accountID, linkID string) ([]string, error) {
	rows, err := w.q.QueryContext(ctx, `
		SELECT lsv.src_entity_version_id
		FROM link_source_versions lsv
		JOIN entity_versions v ON v.entity_version_id = lsv.src_entity_version_id
		WHERE lsv.account_id = $1 AND lsv.link_id = $2
		ORDER BY v.created_at, v.entity_version_id
	`, accountID, linkID)
	if err != nil {
		return nil, fmt.Errorf("list link versions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan link version: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// liveLink loads a link that is valid for the latest version of its source.
func (w pgWriter) liveLink(ctx context.Context, accountID, linkID string) (*link.Record, error) {
	record, err := scanLink(w.q.QueryRowContext(ctx, `
		SELECT `+linkColumns+`
		FROM links l
		JOIN entities e ON e.account_id = l.src_account_id AND e.entity_id = l.src_entity_id
		JOIN link_source_versions lsv ON lsv.account_id = l.account_id
			AND lsv.link_id = l.link_id
			AND lsv.src_entity_version_id = e.latest_version_id
		WHERE l.account_id = $1 AND l.link_id = $2
	`, accountID, linkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", linkID, err)
	}
	record.SrcEntityVersionIDs, err = w.linkVersions(ctx, accountID, linkID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PostgresStore) GetLink(ctx context.Context, accountID, linkID string) (*link.Record, error) {
	return pgWriter{q: s.db}.liveLink(ctx, accountID, linkID)
}

// DeleteLink removes a link from its source. A versioned source gets a new
// version without the link, keeping the link in the older versions.
func (s *PostgresStore) DeleteLink(ctx context.Context, accountID, linkID string) error {
	return s.withTx(ctx, func(w pgWriter) error {
		record, err := w.liveLink(ctx, accountID, linkID)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("link %s: %w", linkID, ErrNotFound)
		}
		source, err := w.latestVersion(ctx, record.SrcAccountID, record.SrcEntityID)
		if err != nil {
			return err
		}
		if source == nil || !source.Versioned {
			if _, err := w.q.ExecContext(ctx, `DELETE FROM links WHERE account_id = $1 AND link_id = $2`, accountID, linkID); err != nil {
				return fmt.Errorf("delete link: %w", err)
			}
			return nil
		}
		_, err = w.newVersion(ctx, *source, source.Properties, linkID)
		return err
	})
}

func (s *PostgresStore) OutgoingLinks(ctx context.Context, accountID, entityVersionID string) ([]link.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM links l
		JOIN link_source_versions lsv ON lsv.account_id = l.account_id AND lsv.link_id = l.link_id
		WHERE l.src_account_id = $1 AND lsv.src_entity_version_id = $2
		ORDER BY l.created_at, l.link_id
	`, accountID, entityVersionID)
	if err != nil {
		return nil, fmt.Errorf("list outgoing links: %w", err)
	}
	defer rows.Close()

	records := make([]link.Record, 0)
	for rows.Next() {
		record, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	rows.Close()

	w := pgWriter{q: s.db}
	for i := range records {
		records[i].SrcEntityVersionIDs, err = w.linkVersions(ctx, records[i].AccountID, records[i].LinkID)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *PostgresStore) CreatePage(ctx context.Context, accountID, title string) (entity.Page, error) {
	typeID, err := s.types.TypeID(systemtypes.Page)
	if err != nil {
		return entity.Page{}, err
	}
	var row pageRow
	err = s.withTx(ctx, func(w pgWriter) error {
		e, err := w.createEntity(ctx, CreateEntityParams{
			AccountID:    accountID,
			EntityTypeID: typeID,
			Versioned:    true,
			Properties:   entity.OtherPayload(entity.OtherProperties{Values: map[string]any{"title": title}}),
		})
		if err != nil {
			return err
		}
		row = pageRow{AccountID: accountID, EntityID: e.EntityID, Title: title}
		return w.q.QueryRowContext(ctx, `
			INSERT INTO pages (account_id, entity_id, title) VALUES ($1, $2, $3)
			RETURNING updated_at
		`, accountID, e.EntityID, title).Scan(&row.UpdatedAt)
	})
	if err != nil {
		return entity.Page{}, fmt.Errorf("create page: %w", err)
	}
	return row.page(nil), nil
}

func (w pgWriter) page(ctx context.Context, accountID, pageID string, lock bool) (pageRow, []entity.Block, error) {
	query := `SELECT account_id, entity_id, title, updated_at FROM pages WHERE account_id = $1 AND entity_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var row pageRow
	err := w.q.QueryRowContext(ctx, query, accountID, pageID).Scan(&row.AccountID, &row.EntityID, &row.Title, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pageRow{}, nil, fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	if err != nil {
		return pageRow{}, nil, fmt.Errorf("get page %s: %w", pageID, err)
	}

	rows, err := w.q.QueryContext(ctx, `
		SELECT block_account_id, block_entity_id, component_id, child_account_id, child_entity_id
		FROM page_blocks
		WHERE account_id = $1 AND page_id = $2
		ORDER BY position
	`, accountID, pageID)
	if err != nil {
		return pageRow{}, nil, fmt.Errorf("list page blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]entity.Block, 0)
	for rows.Next() {
		var b entity.Block
		if err := rows.Scan(&b.AccountID, &b.EntityID, &b.ComponentID, &b.Child.AccountID, &b.Child.EntityID); err != nil {
			return pageRow{}, nil, fmt.Errorf("scan page block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return row, blocks, rows.Err()
}

func (s *PostgresStore) GetPage(ctx context.Context, accountID, pageID string) (entity.Page, error) {
	row, blocks, err := pgWriter{q: s.db}.page(ctx, accountID, pageID, false)
	if err != nil {
		return entity.Page{}, err
	}
	return row.page(blocks), nil
}

// PageSnapshot returns the latest version of every entity the page's blocks
// reference.
func (s *PostgresStore) PageSnapshot(ctx context.Context, accountID, pageID string) (entity.Store, error) {
	w := pgWriter{q: s.db}
	_, blocks, err := w.page(ctx, accountID, pageID, false)
	if err != nil {
		return entity.Store{}, err
	}
	return collectSnapshot(ctx, w, blocks)
}

// UpdatePageContents applies a batch to a page in one transaction and
// rewrites its block list.
func (s *PostgresStore) UpdatePageContents(ctx context.Context, accountID, pageID string, actions []save.Action) (*entity.Page, error) {
	var updated entity.Page
	err := s.withTx(ctx, func(w pgWriter) error {
		row, blocks, err := w.page(ctx, accountID, pageID, true)
		if err != nil {
			return err
		}
		contents, err := save.Apply(ctx, blocks, actions, pageReceiver{w: w, types: s.types})
		if err != nil {
			return err
		}
		if err := w.writeBlocks(ctx, accountID, pageID, contents); err != nil {
			return err
		}
		if err := w.q.QueryRowContext(ctx, `
			UPDATE pages SET updated_at = NOW() WHERE account_id = $1 AND entity_id = $2
			RETURNING updated_at
		`, accountID, pageID).Scan(&row.UpdatedAt); err != nil {
			return fmt.Errorf("touch page: %w", err)
		}
		updated = row.page(contents)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (w pgWriter) writeBlocks(ctx context.Context, accountID, pageID string, blocks []entity.Block) error {
	snapshot, err := collectSnapshot(ctx, w, blocks)
	if err != nil {
		return err
	}
	if _, err := w.q.ExecContext(ctx, `DELETE FROM page_blocks WHERE account_id = $1 AND page_id = $2`, accountID, pageID); err != nil {
		return fmt.Errorf("clear page blocks: %w", err)
	}
	for position, b := range blocks {
		if _, err := w.q.ExecContext(ctx, `
			INSERT INTO page_blocks (account_id, page_id, position, block_account_id, block_entity_id, component_id, child_account_id, child_entity_id, search_text)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, accountID, pageID, position, b.AccountID, b.EntityID, b.ComponentID, b.Child.AccountID, b.Child.EntityID, blockText(b, snapshot)); err != nil {
			return fmt.Errorf("insert page block %d: %w", position, err)
		}
	}
	return nil
}

// blockText is the plain text a block contributes to search, or "" when it
// has none.
func blockText(b entity.Block, snapshot entity.Store) string {
	e, ok := snapshot.Lookup(b.EntityID)
	if !ok {
		return ""
	}
	text, ok, err := entity.TextEntityFromBlock(e, snapshot)
	if err != nil || !ok {
		return ""
	}
	props, err := text.AsText()
	if err != nil {
		return ""
	}
	return props.PlainText()
}
