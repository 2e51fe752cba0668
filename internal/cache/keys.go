package cache

import (
	"fmt"

	"gamesync/internal/model"
)

// Key namespaces. Snapshot and baseline keys are deliberately distinct so
// invalidating a snapshot never discards the diff baseline.
const (
	nsSnapshot = "snap"
	nsBaseline = "base"
	nsErrMark  = "errmark"
)

// SnapshotKey scopes a snapshot cache entry by tenant, entity type and id.
func SnapshotKey(tenant string, ref model.EntityRef) string {
	return fmt.Sprintf("%s:%s:%s", nsSnapshot, tenant, ref)
}

// BaselineKey scopes a diff-baseline entry. Same shape as SnapshotKey but in
// its own namespace.
func BaselineKey(tenant string, ref model.EntityRef) string {
	return fmt.Sprintf("%s:%s:%s", nsBaseline, tenant, ref)
}

// ErrMarkKey scopes a short-TTL error-suppression marker used to rate-limit
// repeated failure logging per entity.
func ErrMarkKey(tenant string, ref model.EntityRef) string {
	return fmt.Sprintf("%s:%s:%s", nsErrMark, tenant, ref)
}
