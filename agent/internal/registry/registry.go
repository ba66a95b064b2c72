package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store persists registry entries.
type Store interface {
	ListTargets(ctx context.Context) ([]models.Target, error)
	UpsertTarget(ctx context.Context, t *models.Target) error
	DeleteTarget(ctx context.Context, kind models.TargetKind, targetID int64) error
}

// Entry is one id of a registry set and its label, if the set has labels.
type Entry struct {
	ID    int64
	Label string
}

// Registry keeps the admin-managed target sets in memory and writes every
// change through to the store.
type Registry struct {
	store Store
	log   *logger.Logger

	mu      sync.RWMutex
	entries map[models.TargetKind]map[int64]string
}

func New(store Store, appLogger *logger.Logger) *Registry {
	return &Registry{
		store:   store,
		log:     appLogger.Named("registry"),
		entries: make(map[models.TargetKind]map[int64]string),
	}
}

// Load replaces the in-memory sets with the stored ones and makes sure every
// seed admin is registered.
func (r *Registry) Load(ctx context.Context, seedAdmins []int64) error {
	targets, err := r.store.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	entries := make(map[models.TargetKind]map[int64]string)
	for _, t := range targets {
		if entries[t.Kind] == nil {
			entries[t.Kind] = make(map[int64]string)
		}
		entries[t.Kind][t.TargetID] = t.Label
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	for _, id := range seedAdmins {
		if r.Has(models.TargetAdmin, id) {
			continue
		}
		if err := r.Add(ctx, models.TargetAdmin, id, ""); err != nil {
			return err
		}
	}

	r.log.Info("Registry loaded",
		zap.Int("users", r.Len(models.TargetUser)),
		zap.Int("chats", r.Len(models.TargetChat)),
		zap.Int("channels", r.Len(models.TargetChannel)),
		zap.Int("admins", r.Len(models.TargetAdmin)))
	return nil
}

// Add registers id in kind, replacing its label if already present.
func (r *Registry) Add(ctx context.Context, kind models.TargetKind, id int64, label string) error {
	if err := r.store.UpsertTarget(ctx, &models.Target{Kind: kind, TargetID: id, Label: label}); err != nil {
		return fmt.Errorf("save %s %d: %w", kind, id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[kind] == nil {
		r.entries[kind] = make(map[int64]string)
	}
	r.entries[kind][id] = label
	return nil
}

// Remove drops id from kind. Removing an absent id is not an error.
func (r *Registry) Remove(ctx context.Context, kind models.TargetKind, id int64) error {
	if err := r.store.DeleteTarget(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[kind], id)
	return nil
}

func (r *Registry) Has(kind models.TargetKind, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind][id]
	return ok
}

func (r *Registry) Label(kind models.TargetKind, id int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.entries[kind][id]
	return label, ok
}

func (r *Registry) Len(kind models.TargetKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}

// IDs returns the ids of kind in ascending order.
func (r *Registry) IDs(kind models.TargetKind) []int64 {
	r.mu.RLock()
	ids := lo.Keys(r.entries[kind])
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entries returns the ids of kind with their labels, ordered by id.
func (r *Registry) Entries(kind models.TargetKind) []Entry {
	r.mu.RLock()
	out := lo.MapToSlice(r.entries[kind], func(id int64, label string) Entry {
		return Entry{ID: id, Label: label}
	})
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShouldMonitor reports whether a message in chatID from senderID is tracked:
// the chat is a target chat or monitored channel, or the sender is a target
// user.
func (r *Registry) ShouldMonitor(chatID, senderID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[models.TargetChat][chatID]; ok {
		return true
	}
	if _, ok := r.entries[models.TargetChannel][chatID]; ok {
		return true
	}
	if senderID == 0 {
		return false
	}
	_, ok := r.entries[models.TargetUser][senderID]
	return ok
}

func (r *Registry) IsAdmin(userID int64) bool {
	return r.Has(models.TargetAdmin, userID)
}
