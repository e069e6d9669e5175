package record

import (
	"context"
	"fmt"
	"time"

	"github.com/collabtree/collabd/pkg/directory"
)

// Snapshot is a complete readable snapshot of one revision of a record.
//
// The JSON tags let the REST facade serve snapshots directly; free-text
// fields hold raw (unescaped) text.
type Snapshot struct {
	URI                string    `json:"uri"`
	Revision           int       `json:"revision"`
	Locations          []string  `json:"locations,omitempty"`
	RequiredContainers []string  `json:"requiredContainers,omitempty"`
	OptionalContainers []string  `json:"optionalContainers,omitempty"`
	Description        string    `json:"description,omitempty"`
	Type               string    `json:"type,omitempty"`
	Metadata           string    `json:"metadata,omitempty"`
	ContainerRevision  string    `json:"containerRevision,omitempty"`
	Created            time.Time `json:"created,omitempty"`
	Modified           time.Time `json:"modified,omitempty"`
}

// Export builds a snapshot of every readable attribute of the bound
// revision plus identity, revision number and timestamps.
//
// Missing attributes are not errors; only genuinely unexpected failures
// surface.
func (r *VersionedRecord) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		URI:      r.uri,
		Revision: r.revision,
	}

	var err error
	if snap.Locations, err = r.optionalValues(ctx, directory.AttrLocation); err != nil {
		return nil, err
	}
	if snap.RequiredContainers, err = r.optionalValues(ctx, directory.AttrRequiredContainer); err != nil {
		return nil, err
	}
	if snap.OptionalContainers, err = r.optionalValues(ctx, directory.AttrOptionalContainer); err != nil {
		return nil, err
	}
	if snap.Description, err = r.optionalText(ctx, directory.AttrDescription); err != nil {
		return nil, err
	}
	if snap.Type, err = r.optionalText(ctx, directory.AttrType); err != nil {
		return nil, err
	}
	if snap.Metadata, err = r.optionalText(ctx, directory.AttrMetadata); err != nil {
		return nil, err
	}
	if snap.ContainerRevision, err = r.optionalText(ctx, directory.AttrContainerRevision); err != nil {
		return nil, err
	}

	created, modified, err := r.conn.Timestamps(ctx, r.bound)
	if err != nil {
		return nil, fmt.Errorf("read timestamps: %w", err)
	}
	snap.Created, snap.Modified = created, modified

	return snap, nil
}

// Import applies a snapshot to the live record.
//
// If the snapshot's identity differs from the bound URI the record is
// rebound first (creating the target entry if absent). The current live
// state is archived, all live attributes are cleared, then every non-empty
// snapshot field is applied. Duplicate-value collisions on multi-valued
// adds are swallowed.
func (r *VersionedRecord) Import(ctx context.Context, snap *Snapshot) error {
	if snap.URI != "" && snap.URI != r.uri {
		rebound, err := Bind(ctx, r.conn, r.cfg, snap.URI, true)
		if err != nil {
			return fmt.Errorf("rebind to %s: %w", snap.URI, err)
		}
		*r = *rebound
	}

	if _, err := r.CreateRevision(ctx); err != nil {
		return err
	}
	if err := r.clearLiveAttributes(ctx); err != nil {
		return err
	}

	multi := []struct {
		name   string
		values []string
	}{
		{directory.AttrLocation, snap.Locations},
		{directory.AttrRequiredContainer, snap.RequiredContainers},
		{directory.AttrOptionalContainer, snap.OptionalContainers},
	}
	for _, m := range multi {
		for _, value := range m.values {
			if err := r.AddValue(ctx, m.name, value); err != nil {
				if directory.IsCode(err, directory.ErrValueExists) {
					continue
				}
				return fmt.Errorf("apply %s: %w", m.name, err)
			}
		}
	}

	single := []struct {
		name  string
		value string
	}{
		{directory.AttrDescription, snap.Description},
		{directory.AttrType, snap.Type},
		{directory.AttrMetadata, snap.Metadata},
		{directory.AttrContainerRevision, snap.ContainerRevision},
	}
	for _, s := range single {
		if s.value == "" {
			continue
		}
		if err := r.SetText(ctx, s.name, s.value); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
	}

	return nil
}

// optionalValues reads a multi-valued attribute, treating absence as nil.
func (r *VersionedRecord) optionalValues(ctx context.Context, name string) ([]string, error) {
	values, err := r.Values(ctx, name)
	if err != nil {
		if directory.IsCode(err, directory.ErrNoSuchAttribute) {
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

// optionalText reads a single-valued attribute, treating absence as empty.
func (r *VersionedRecord) optionalText(ctx context.Context, name string) (string, error) {
	value, err := r.Text(ctx, name)
	if err != nil {
		if directory.IsCode(err, directory.ErrNoSuchAttribute) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
