package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hash/api/internal/entity"
	"hash/api/internal/link"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// entityColumns selects one entity version joined with its entity row as
// e and v.
const entityColumns = `v.account_id, v.entity_id, v.entity_version_id, e.entity_type_id, v.versioned, v.created_at, v.properties`

func scanEntity(row rowScanner) (entity.Entity, error) {
	var (
		e   entity.Entity
		raw []byte
	)
	if err := row.Scan(&e.AccountID, &e.EntityID, &e.EntityVersionID, &e.EntityTypeID, &e.Versioned, &e.CreatedAt, &raw); err != nil {
		return entity.Entity{}, err
	}
	if err := json.Unmarshal(raw, &e.Properties); err != nil {
		return entity.Entity{}, fmt.Errorf("decode properties of %s: %w", e.EntityVersionID, err)
	}
	return e, nil
}

func encodeProperties(props entity.Properties) (string, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(raw), nil
}

const linkColumns = `l.account_id, l.link_id, l.path, l.src_account_id, l.src_entity_id, l.dst_account_id, l.dst_entity_id, l.dst_entity_version_id, l.created_at`

func scanLink(row rowScanner) (link.Record, error) {
	var (
		r          link.Record
		dstVersion sql.NullString
	)
	if err := row.Scan(&r.AccountID, &r.LinkID, &r.Path, &r.SrcAccountID, &r.SrcEntityID, &r.DstAccountID, &r.DstEntityID, &dstVersion, &r.CreatedAt); err != nil {
		return link.Record{}, err
	}
	r.DstEntityVersionID = dstVersion.String
	return r, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

type pageRow struct {
	AccountID string
	EntityID  string
	Title     string
	UpdatedAt time.Time
}

func (r pageRow) page(contents []entity.Block) entity.Page {
	if contents == nil {
		contents = []entity.Block{}
	}
	return entity.Page{
		AccountID: r.AccountID,
		EntityID:  r.EntityID,
		Title:     r.Title,
		Contents:  contents,
		UpdatedAt: r.UpdatedAt,
	}
}
