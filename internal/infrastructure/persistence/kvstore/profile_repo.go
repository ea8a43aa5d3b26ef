package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// ProfileRepository implements fluency.ProfileRepository.
type ProfileRepository struct {
	store Store
	log   *logger.Logger
}

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(store Store, log *logger.Logger) *ProfileRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileRepository{store: store, log: log.With(logger.Component("profile_repo"))}
}

var _ fluency.ProfileRepository = (*ProfileRepository)(nil)

// Get loads user:{userID}.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*fluency.Profile, error) {
	if !shared.ValidID(userID) {
		return nil, shared.ErrProfileNotFound
	}

	raw, err := r.store.Get(ctx, UserKey(userID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	p, err := decodeProfile(raw, userID)
	if err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return p, nil
}

// Save overwrites user:{profile.ID}.
func (r *ProfileRepository) Save(ctx context.Context, profile *fluency.Profile) error {
	if profile == nil || !shared.ValidID(profile.ID) {
		return shared.ErrInvalidUserID
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", profile.ID, err)
	}
	if err := r.store.Set(ctx, UserKey(profile.ID), raw); err != nil {
		return fmt.Errorf("save profile %s: %w", profile.ID, err)
	}
	return nil
}

// List scans user:* and returns every decodable profile. Keys with extra
// segments belong to other record types and are ignored.
func (r *ProfileRepository) List(ctx context.Context) ([]*fluency.Profile, error) {
	entries, err := r.store.GetByPrefix(ctx, UserPrefix())
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	out := make([]*fluency.Profile, 0, len(entries))
	for _, e := range entries {
		id, ok := isSingleSegment(e.Key, UserPrefix())
		if !ok || !shared.ValidID(id) {
			continue
		}
		p, err := decodeProfile(e.Value, id)
		if err != nil {
			r.log.Warn("skipping malformed profile record", logger.String("key", e.Key), logger.Err(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeProfile(raw []byte, id string) (*fluency.Profile, error) {
	var p fluency.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}
