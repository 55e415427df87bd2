package subscription

import "strings"

// IdentityKind tells which lookup key a SubscriberIdentity carries.
type IdentityKind int

const (
	IdentityEmail IdentityKind = iota + 1
	IdentityUserID
)

// SubscriberIdentity is either an email or a user id. Rows are matched on
// both columns because the user id falls back to the email when no account
// system correlates the payer.
type SubscriberIdentity struct {
	kind  IdentityKind
	value string
}

func ByEmail(email string) SubscriberIdentity {
	return SubscriberIdentity{kind: IdentityEmail, value: strings.ToLower(strings.TrimSpace(email))}
}

func ByUserID(userID string) SubscriberIdentity {
	return SubscriberIdentity{kind: IdentityUserID, value: strings.TrimSpace(userID)}
}

// ParseIdentity treats anything containing "@" as an email.
func ParseIdentity(raw string) SubscriberIdentity {
	if strings.Contains(raw, "@") {
		return ByEmail(raw)
	}
	return ByUserID(raw)
}

func (i SubscriberIdentity) Kind() IdentityKind { return i.kind }
func (i SubscriberIdentity) Value() string      { return i.value }
func (i SubscriberIdentity) IsZero() bool       { return i.value == "" }

func (i SubscriberIdentity) String() string {
	switch i.kind {
	case IdentityEmail:
		return "email:" + i.value
	case IdentityUserID:
		return "user:" + i.value
	default:
		return ""
	}
}
