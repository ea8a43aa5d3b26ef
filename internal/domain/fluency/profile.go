package fluency

import (
	"encoding/json"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
)

// Profile is the learner record stored under user:{id}.
//
// The record is shared with other parts of the application, so any JSON
// fields this type does not model are kept verbatim and written back on save.
type Profile struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name,omitempty"`
	Email                 string        `json:"email,omitempty"`
	Role                  identity.Role `json:"role,omitempty"`
	FluencyLevel          Level         `json:"fluencyLevel,omitempty"`
	FluencyLevelUpdatedAt *time.Time    `json:"fluencyLevelUpdatedAt,omitempty"`
	FluencyLevelUpdatedBy string        `json:"fluencyLevelUpdatedBy,omitempty"`
	CreatedAt             *time.Time    `json:"createdAt,omitempty"`

	extra map[string]json.RawMessage
}

// NewProfile creates a profile for a freshly registered account. The fluency
// level is left unset; initialization assigns it.
func NewProfile(id, name, email string, role identity.Role, createdAt time.Time) *Profile {
	at := createdAt.UTC()
	return &Profile{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: &at,
	}
}

// HasLevel reports whether a ladder level is stored. Legacy codes such as
// "a2" or "B3" count as absent so that migration replaces them.
func (p *Profile) HasLevel() bool {
	return p.FluencyLevel.IsValid()
}

// EffectiveLevel returns the stored level, or DefaultLevel when no ladder
// level is stored.
func (p *Profile) EffectiveLevel() Level {
	if !p.HasLevel() {
		return DefaultLevel
	}
	return p.FluencyLevel
}

// ApplyLevel records a new level together with who set it and when.
func (p *Profile) ApplyLevel(level Level, at time.Time, by string) {
	ts := at.UTC()
	p.FluencyLevel = level
	p.FluencyLevelUpdatedAt = &ts
	p.FluencyLevelUpdatedBy = by
}

// EffectiveRole returns the stored role, defaulting to student.
func (p *Profile) EffectiveRole() identity.Role {
	if !p.Role.IsValid() {
		return identity.RoleStudent
	}
	return p.Role
}

// Clone returns a deep copy, including unmodelled fields.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.FluencyLevelUpdatedAt != nil {
		t := *p.FluencyLevelUpdatedAt
		c.FluencyLevelUpdatedAt = &t
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		c.CreatedAt = &t
	}
	if p.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(p.extra))
		for k, v := range p.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Extra returns the raw value of an unmodelled field.
func (p *Profile) Extra(key string) (json.RawMessage, bool) {
	v, ok := p.extra[key]
	return v, ok
}

// profileFields mirrors Profile without methods so encoding/json does not recurse.
type profileFields Profile

var modelledKeys = map[string]struct{}{
	"id":                    {},
	"name":                  {},
	"email":                 {},
	"role":                  {},
	"fluencyLevel":          {},
	"fluencyLevelUpdatedAt": {},
	"fluencyLevelUpdatedBy": {},
	"createdAt":             {},
}

// MarshalJSON writes modelled fields over the preserved unmodelled ones.
func (p Profile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(profileFields(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(p.extra)+len(modelledKeys))
	for k, v := range p.extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads modelled fields and stashes everything else.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var fields profileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range modelledKeys {
		delete(all, k)
	}

	*p = Profile(fields)
	if len(all) > 0 {
		p.extra = all
	} else {
		p.extra = nil
	}
	return nil
}
