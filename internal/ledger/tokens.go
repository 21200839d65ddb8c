package ledger

import (
	"crypto/rand"
	"math/big"

	"github.com/oklog/ulid/v2"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	hashAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
)

func randomString(alphabet string, n int) string {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}

// NewTokenID mints the presentation token for a purchased credit.
func NewTokenID(projectID string) string {
	return "TKN-" + projectID + "-" + randomString(tokenAlphabet, 8)
}

// NewTransactionHash synthesizes a transaction reference.
func NewTransactionHash() string {
	return "tx-" + randomString(hashAlphabet, 21)
}

// NewCertificateID returns a sortable retirement certificate id.
func NewCertificateID() string {
	return "CERT-" + ulid.Make().String()
}
