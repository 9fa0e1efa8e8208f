// Package visibility defines the ordered disclosure tiers that control what
// an agent may reveal to a given requester.
//
// Tiers form a total order: public < friends < intimate. All visibility
// decisions in the engine go through this order; content tagged with a tier
// is servable only to requesters whose resolved tier is at least as high.
package visibility

import (
	"encoding/json"
	"fmt"
)

// Tier is a disclosure level. The zero value is TierPublic, which is the
// safe default for anonymous or unknown requesters.
type Tier int

const (
	// TierPublic is the lowest tier. Public content is servable to everyone,
	// including anonymous requesters.
	TierPublic Tier = iota

	// TierFriends covers content the agent owner shares with approved
	// followers.
	TierFriends

	// TierIntimate is the highest tier. The agent owner always resolves to
	// this tier for their own agents.
	TierIntimate
)

var tierNames = map[Tier]string{
	TierPublic:   "public",
	TierFriends:  "friends",
	TierIntimate: "intimate",
}

// ParseTier converts a tier name ("public", "friends", "intimate") into a
// Tier. Returns an error for unknown names.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierPublic, fmt.Errorf("visibility: unknown tier %q", s)
}

// String returns the canonical lowercase name of the tier.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the three defined tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Allows reports whether content tagged with the given tier may be disclosed
// to a requester resolved at tier t. Content is visible when its required
// tier does not exceed the requester's tier.
func (t Tier) Allows(content Tier) bool {
	return content <= t
}

// MarshalJSON encodes the tier as its string name.
func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("visibility: cannot marshal invalid tier %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its string name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
