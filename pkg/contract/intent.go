package contract

import "fmt"

// Intent is the declared purpose of a transaction.
type Intent int

const (
	IntentIssue Intent = iota + 1
	IntentAddClaim
	IntentAcceptClaim
	IntentRejectClaim
)

var intentNames = map[Intent]string{
	IntentIssue:       "Issue",
	IntentAddClaim:    "AddClaim",
	IntentAcceptClaim: "AcceptClaim",
	IntentRejectClaim: "RejectClaim",
}

// Valid reports whether i is one of the declared intents.
func (i Intent) Valid() bool {
	_, ok := intentNames[i]
	return ok
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return fmt.Sprintf("Intent(%d)", int(i))
}

// ParseIntent maps an intent name back to its value.
func ParseIntent(name string) (Intent, error) {
	for i, n := range intentNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", name)
}

func (i Intent) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", i)
	}
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(text []byte) error {
	v, err := ParseIntent(string(text))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
