// Package identity maps holder public keys to the account ids used by the
// external id index strategy.
package identity

import (
	"context"
	"encoding/hex"
	"strings"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/tokencache/errors"
)

// Resolver resolves a public key to an account id. Keys it does not know
// yield an ERR_UNKNOWN_KEY error.
type Resolver interface {
	Resolve(ctx context.Context, publicKey string) (string, error)
}

// NormalizePublicKey parses a hex encoded public key, compressed or not,
// and returns it in compressed lower case hex form.
func NormalizePublicKey(publicKey string) (string, error) {
	b, err := hex.DecodeString(strings.TrimSpace(publicKey))
	if err != nil {
		return "", errors.NewInvalidArgumentError("public key %q is not hex", publicKey, err)
	}

	pubKey, err := bec.ParsePubKey(b)
	if err != nil {
		return "", errors.NewInvalidArgumentError("public key %q is not a valid secp256k1 key", publicKey, err)
	}

	return hex.EncodeToString(pubKey.Compressed()), nil
}

func unknownKey(publicKey string, params ...interface{}) error {
	return errors.NewUnknownKeyError("no account for public key %s", append([]interface{}{publicKey}, params...)...)
}
