package insurance

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity is an opaque handle to a ledger participant.
//
// Two identities are equal when their canonical keys match. The key is the
// NFC-normalised, case-folded legal name, so "O=Insurer, C=GB" and
// "o=insurer, c=gb" name the same participant.
type Identity struct {
	name string
	key  string
}

// NewIdentity builds an identity from a participant's legal name.
func NewIdentity(name string) (Identity, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return Identity{}, invalid("identity", "name", "must not be empty")
	}
	return Identity{name: name, key: canonicalKey(name)}, nil
}

// MustIdentity is NewIdentity for fixed names; it panics on an empty name.
func MustIdentity(name string) Identity {
	id, err := NewIdentity(name)
	if err != nil {
		panic(err)
	}
	return id
}

func canonicalKey(name string) string {
	fields := strings.Fields(cases.Fold().String(name))
	return strings.Join(fields, " ")
}

// Name returns the display name the identity was created with.
func (i Identity) Name() string { return i.name }

// Key returns the canonical participant key.
func (i Identity) Key() string { return i.key }

// IsZero reports whether the identity was never initialised.
func (i Identity) IsZero() bool { return i.key == "" }

// Equal compares canonical keys.
func (i Identity) Equal(other Identity) bool { return i.key == other.key }

func (i Identity) String() string { return i.name }

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.name)
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	id, err := NewIdentity(name)
	if err != nil {
		return err
	}
	*i = id
	return nil
}

// ContainsIdentity reports whether ids holds an identity equal to id.
func ContainsIdentity(ids []Identity, id Identity) bool {
	for _, candidate := range ids {
		if candidate.Equal(id) {
			return true
		}
	}
	return false
}
