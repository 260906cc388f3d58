// Package link manages path-labelled links between entities.
//
// A link belongs to every version of its source entity it was valid for.
// Creating a link on a versioned source first cuts a new source version;
// deleting it makes the source refetch its latest version.
package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"hash/api/internal/entity"
)

var (
	// ErrIntegrity marks a link whose endpoint entity cannot be found. It
	// indicates corrupted storage and is never defaulted.
	ErrIntegrity          = errors.New("link integrity violation")
	ErrInvalidDestination = errors.New("invalid link destination")
)

// Record is the persisted form of a link.
type Record struct {
	AccountID           string    `json:"accountId"`
	LinkID              string    `json:"linkId"`
	Path                string    `json:"path"`
	SrcAccountID        string    `json:"srcAccountId"`
	SrcEntityID         string    `json:"srcEntityId"`
	SrcEntityVersionIDs []string  `json:"srcEntityVersionIds"`
	DstAccountID        string    `json:"dstAccountId"`
	DstEntityID         string    `json:"dstEntityId"`
	DstEntityVersionID  string    `json:"dstEntityVersionId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// ValidFor reports whether the link applies to the given source version.
func (r Record) ValidFor(entityVersionID string) bool {
	return slices.Contains(r.SrcEntityVersionIDs, entityVersionID)
}

type CreateParams struct {
	AccountID           string
	Path                string
	SrcAccountID        string
	SrcEntityID         string
	SrcEntityVersionIDs []string
	DstAccountID        string
	DstEntityID         string
	DstEntityVersionID  string
}

// Backend is the storage the link model runs against. Lookups return nil
// without error when nothing matches.
type Backend interface {
	CreateLink(ctx context.Context, params CreateParams) (Record, error)
	GetLink(ctx context.Context, accountID, linkID string) (*Record, error)
	DeleteLink(ctx context.Context, accountID, linkID string) error
	OutgoingLinks(ctx context.Context, accountID, entityVersionID string) ([]Record, error)
	GetEntityLatestVersion(ctx context.Context, accountID, entityID string) (*entity.Entity, error)
	GetEntityVersion(ctx context.Context, accountID, entityVersionID string) (*entity.Entity, error)
	// UpdateEntityProperties writes props to e. Versioned entities get a
	// new version; the returned entity is the one now current.
	UpdateEntityProperties(ctx context.Context, e entity.Entity, props entity.Properties) (entity.Entity, error)
}

// Link is a loaded link. Its endpoints are resolved on first use and kept
// until Delete.
type Link struct {
	Record

	source      *entity.Entity
	destination *entity.Entity
}

func New(record Record) *Link {
	return &Link{Record: record}
}

type CreateArgs struct {
	Path        string
	Source      *entity.Entity
	Destination *entity.Entity
	// DstEntityVersionID pins the destination version. Empty follows the
	// destination's latest version.
	DstEntityVersionID string
}

// Create validates and persists a new link. Source is updated in place when
// a new version of it had to be cut.
func Create(ctx context.Context, b Backend, args CreateArgs) (*Link, error) {
	if err := ValidatePath(args.Path); err != nil {
		return nil, err
	}
	if args.Source == nil || args.Destination == nil {
		return nil, fmt.Errorf("%w: source and destination are required", ErrInvalidDestination)
	}
	source, destination := args.Source, args.Destination

	if source.Versioned {
		// Snapshot the current properties before the link attaches.
		updated, err := b.UpdateEntityProperties(ctx, *source, source.Properties)
		if err != nil {
			return nil, fmt.Errorf("create source version: %w", err)
		}
		*source = updated
	}

	if args.DstEntityVersionID != "" {
		pinned, err := b.GetEntityVersion(ctx, destination.AccountID, args.DstEntityVersionID)
		if err != nil {
			return nil, fmt.Errorf("get destination version: %w", err)
		}
		if pinned == nil || pinned.EntityID != destination.EntityID {
			return nil, fmt.Errorf("%w: entity %s has no version %s", ErrInvalidDestination, destination.EntityID, args.DstEntityVersionID)
		}
	}

	record, err := b.CreateLink(ctx, CreateParams{
		AccountID:           source.AccountID,
		Path:                args.Path,
		SrcAccountID:        source.AccountID,
		SrcEntityID:         source.EntityID,
		SrcEntityVersionIDs: []string{source.EntityVersionID},
		DstAccountID:        destination.AccountID,
		DstEntityID:         destination.EntityID,
		DstEntityVersionID:  args.DstEntityVersionID,
	})
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	return &Link{Record: record, source: source, destination: destination}, nil
}

// Get loads a link by primary key. It returns nil when none exists.
func Get(ctx context.Context, b Backend, accountID, linkID string) (*Link, error) {
	record, err := b.GetLink(ctx, accountID, linkID)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	return New(*record), nil
}

// Outgoing lists the links valid for the given version of source.
func Outgoing(ctx context.Context, b Backend, source entity.Entity) ([]*Link, error) {
	records, err := b.OutgoingLinks(ctx, source.AccountID, source.EntityVersionID)
	if err != nil {
		return nil, fmt.Errorf("outgoing links of %s: %w", source.EntityVersionID, err)
	}
	links := make([]*Link, 0, len(records))
	for _, record := range records {
		links = append(links, New(record))
	}
	return links, nil
}

// Delete removes the link. A cached source is refreshed to its latest
// version, since removing an outgoing link may have cut a new one.
func (l *Link) Delete(ctx context.Context, b Backend) error {
	if err := b.DeleteLink(ctx, l.AccountID, l.LinkID); err != nil {
		return fmt.Errorf("delete link %s: %w", l.LinkID, err)
	}
	if l.source != nil {
		latest, err := l.fetchSource(ctx, b)
		if err != nil {
			return err
		}
		*l.source = *latest
	}
	l.source = nil
	l.destination = nil
	return nil
}

func (l *Link) fetchSource(ctx context.Context, b Backend) (*entity.Entity, error) {
	source, err := b.GetEntityLatestVersion(ctx, l.SrcAccountID, l.SrcEntityID)
	if err != nil {
		return nil, fmt.Errorf("get link source: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: couldn't find source entity of link in account %s with link id %s", ErrIntegrity, l.AccountID, l.LinkID)
	}
	return source, nil
}

// Source returns the latest version of the source entity.
func (l *Link) Source(ctx context.Context, b Backend) (*entity.Entity, error) {
	if l.source == nil {
		source, err := l.fetchSource(ctx, b)
		if err != nil {
			return nil, err
		}
		l.source = source
	}
	return l.source, nil
}

func (l *Link) fetchDestination(ctx context.Context, b Backend) (*entity.Entity, error) {
	var (
		destination *entity.Entity
		err         error
	)
	if l.DstEntityVersionID != "" {
		destination, err = b.GetEntityVersion(ctx, l.DstAccountID, l.DstEntityVersionID)
	} else {
		destination, err = b.GetEntityLatestVersion(ctx, l.DstAccountID, l.DstEntityID)
	}
	if err != nil {
		return nil, fmt.Errorf("get link destination: %w", err)
	}
	if destination == nil {
		return nil, fmt.Errorf("%w: couldn't find destination entity of link in account %s with link id %s", ErrIntegrity, l.AccountID, l.LinkID)
	}
	return destination, nil
}

// Destination returns the pinned destination version, or the latest one
// when no version is pinned.
func (l *Link) Destination(ctx context.Context, b Backend) (*entity.Entity, error) {
	if l.destination == nil {
		destination, err := l.fetchDestination(ctx, b)
		if err != nil {
			return nil, err
		}
		l.destination = destination
	}
	return l.destination, nil
}
