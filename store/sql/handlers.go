package sqlstore

import (
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/google/uuid"
)

// keyedRecord is a row whose primary key is a uuid string and which is also
// addressable by a natural identifier column.
type keyedRecord interface {
	key() string
	setKey(id string)
	naturalKey() string
}

func recordHandlers[R keyedRecord](newRecord func() R, identifierColumn string) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			id, err := uuid.Parse(record.key())
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record R, id uuid.UUID) {
			record.setKey(id.String())
		},
		GetIdentifier: func() string {
			return identifierColumn
		},
		GetIdentifierValue: func(record R) string {
			return record.naturalKey()
		},
	}
}

func (r *sessionRecord) key() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *sessionRecord) setKey(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *sessionRecord) naturalKey() string {
	return r.key()
}

func (r *installationRecord) key() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func (r *installationRecord) setKey(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *installationRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.Shop
}

func (r *installationRecord) toDomain() core.Installation {
	if r == nil {
		return core.Installation{}
	}
	out := core.Installation{
		ID:          r.ID,
		Shop:        r.Shop,
		Scopes:      splitScopes(r.Scopes),
		Status:      core.InstallationStatus(r.Status),
		InstalledAt: r.InstalledAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.UninstalledAt != nil {
		at := r.UninstalledAt.UTC()
		out.UninstalledAt = &at
	}
	return out
}

// transition moves the record to status. A reinstall resets InstalledAt and
// clears UninstalledAt; an uninstall stamps UninstalledAt once.
func (r *installationRecord) transition(status core.InstallationStatus, now time.Time) {
	switch status {
	case core.InstallationStatusActive:
		if r.Status != string(core.InstallationStatusActive) {
			r.InstalledAt = now
		}
		r.UninstalledAt = nil
	case core.InstallationStatusUninstalled:
		if r.UninstalledAt == nil {
			r.UninstalledAt = &now
		}
	}
	r.Status = string(status)
	r.UpdatedAt = now
}

func joinScopes(scopes []string) string {
	return strings.Join(core.NormalizeScopes(scopes), ",")
}

func splitScopes(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	return core.NormalizeScopes([]string{value})
}
