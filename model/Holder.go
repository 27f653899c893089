package model

import "fmt"

// HolderKind enumerates the supported holder scopes.
type HolderKind uint8

const (
	// HolderTypeOnly ignores the holder and matches on value type alone.
	HolderTypeOnly HolderKind = iota
	HolderPublicKey
	HolderAccount
	// HolderUnmapped is a public key the identity service could not resolve to an account.
	HolderUnmapped
)

func (k HolderKind) String() string {
	switch k {
	case HolderTypeOnly:
		return "type-only"
	case HolderPublicKey:
		return "public-key"
	case HolderAccount:
		return "account"
	case HolderUnmapped:
		return "unmapped"
	default:
		return fmt.Sprintf("holder-kind(%d)", uint8(k))
	}
}

// HolderKey is the holder part of a classification key. It is comparable and
// used directly as part of map keys.
type HolderKey struct {
	Kind  HolderKind
	Value string
}

func TypeOnlyHolder() HolderKey {
	return HolderKey{Kind: HolderTypeOnly}
}

func PublicKeyHolder(publicKey string) HolderKey {
	return HolderKey{Kind: HolderPublicKey, Value: publicKey}
}

func AccountHolder(accountID string) HolderKey {
	return HolderKey{Kind: HolderAccount, Value: accountID}
}

func UnmappedHolder(publicKey string) HolderKey {
	return HolderKey{Kind: HolderUnmapped, Value: publicKey}
}

func (h HolderKey) IsTypeOnly() bool {
	return h.Kind == HolderTypeOnly
}

func (h HolderKey) String() string {
	if h.Kind == HolderTypeOnly {
		return h.Kind.String()
	}

	return fmt.Sprintf("%s:%s", h.Kind, h.Value)
}
