package storage

import (
	"fmt"
	"sort"
	"time"

	"northstar-hq/polaris/pkg/state"
)

// Filter matching shared by the memory and redis backings. The SQLite
// backing pushes the same predicates into SQL.

func matchKey(k *state.Key, q state.Query) bool {
	if q.KeyID != "" && k.ID != q.KeyID {
		return false
	}
	if q.ProviderID != "" && k.ProviderID != q.ProviderID {
		return false
	}
	if q.State != "" && string(k.State) != q.State {
		return false
	}
	return inRange(k.CreatedAt, q.Since, q.Until)
}

func matchQuota(qs *state.QuotaState, q state.Query) bool {
	if q.KeyID != "" && qs.KeyID != q.KeyID {
		return false
	}
	if q.State != "" && string(qs.CapacityState) != q.State {
		return false
	}
	return inRange(qs.UpdatedAt, q.Since, q.Until)
}

func matchDecision(d *state.RoutingDecision, q state.Query) bool {
	if q.KeyID != "" && d.SelectedKeyID != q.KeyID {
		return false
	}
	if q.ProviderID != "" && d.SelectedProviderID != q.ProviderID {
		return false
	}
	return inRange(d.Timestamp, q.Since, q.Until)
}

func matchTransition(tr *state.StateTransition, q state.Query) bool {
	if q.KeyID != "" && tr.EntityID != q.KeyID {
		return false
	}
	if q.State != "" && tr.ToState != q.State {
		return false
	}
	return inRange(tr.Timestamp, q.Since, q.Until)
}

// inRange checks ts against inclusive bounds; zero bounds are open.
func inRange(ts, since, until time.Time) bool {
	if !since.IsZero() && ts.Before(since) {
		return false
	}
	if !until.IsZero() && ts.After(until) {
		return false
	}
	return true
}

func sortKeys(keys []*state.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.Before(keys[j].CreatedAt)
		}
		return keys[i].ID < keys[j].ID
	})
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func errUnknownEntityType(et state.EntityType) error {
	return fmt.Errorf("unknown entity type %q", et)
}
