package tokencache

import (
	"context"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/services/identity"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/ulogger"
)

// Strategy selects how the holder part of a classification key is derived.
type Strategy string

const (
	// StrategyOwningKey indexes records by the holder public key.
	StrategyOwningKey Strategy = settings.StrategyOwningKey
	// StrategyExternalID indexes records by the account the holder key resolves to.
	StrategyExternalID Strategy = settings.StrategyExternalID
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyOwningKey, StrategyExternalID:
		return Strategy(s), nil
	default:
		return "", errors.NewConfigurationError("unknown index strategy %q", s)
	}
}

// ClassificationKey buckets records for holder scoped selection.
type ClassificationKey struct {
	Holder     model.HolderKey
	Class      string
	Identifier string
}

func (k ClassificationKey) String() string {
	return k.Holder.String() + "/" + k.Class + "/" + k.Identifier
}

func keyFor(holder model.HolderKey, valueType model.ValueType) ClassificationKey {
	return ClassificationKey{Holder: holder, Class: valueType.Class, Identifier: valueType.Identifier}
}

// classify derives the record's key under strategy. The external id strategy
// calls the resolver; a key it cannot resolve is classified as unmapped.
func classify(ctx context.Context, logger ulogger.Logger, strategy Strategy, resolver identity.Resolver, record *model.TokenRecord) ClassificationKey {
	switch strategy {
	case StrategyExternalID:
		accountID, err := resolver.Resolve(ctx, record.Holder)
		if err != nil {
			logger.Warnf("[TokenCache] could not resolve holder of %s, indexing as unmapped: %v", record.ID, err)
			return keyFor(model.UnmappedHolder(record.Holder), record.Value.Type)
		}

		return keyFor(model.AccountHolder(accountID), record.Value.Type)
	default:
		return keyFor(model.PublicKeyHolder(record.Holder), record.Value.Type)
	}
}

// holderFor maps a requested holder onto the key space of strategy.
func holderFor(ctx context.Context, strategy Strategy, resolver identity.Resolver, holder model.HolderKey) (model.HolderKey, error) {
	switch holder.Kind {
	case model.HolderPublicKey:
		holder = model.PublicKeyHolder(canonicalHolder(holder.Value))

		if strategy != StrategyExternalID {
			return holder, nil
		}

		accountID, err := resolver.Resolve(ctx, holder.Value)
		if err != nil {
			if errors.Is(err, errors.ErrUnknownKey) {
				return holder, err
			}

			return holder, errors.NewUnknownKeyError("could not resolve holder %s", holder.Value, err)
		}

		return model.AccountHolder(accountID), nil
	case model.HolderAccount:
		if strategy != StrategyExternalID {
			return holder, errors.NewInvalidArgumentError("account holder %s requires the %s strategy", holder.Value, StrategyExternalID)
		}

		return holder, nil
	case model.HolderUnmapped:
		if strategy != StrategyExternalID {
			return holder, errors.NewInvalidArgumentError("unmapped holder %s requires the %s strategy", holder.Value, StrategyExternalID)
		}

		return holder, nil
	default:
		return holder, errors.NewInvalidArgumentError("unsupported holder %s", holder)
	}
}

// canonicalHolder returns publicKey as compressed lower case hex. A value that
// is not a valid public key is returned unchanged.
func canonicalHolder(publicKey string) string {
	key, err := identity.NormalizePublicKey(publicKey)
	if err != nil {
		return publicKey
	}

	return key
}

// withCanonicalHolder returns record, or a copy of it when its holder is not
// in canonical form, so records from the feed and the ledger share buckets
// with normalised select requests.
func withCanonicalHolder(record *model.TokenRecord) *model.TokenRecord {
	key := canonicalHolder(record.Holder)
	if key == record.Holder {
		return record
	}

	normalised := *record
	normalised.Holder = key

	return &normalised
}
