// File: internal/ledger/receipts.go
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// ErrReceiptInvalid marks any receipt verification failure: bad signature,
// wrong algorithm, or claims that no longer match the entry.
var ErrReceiptInvalid = errors.New("ledger receipt invalid")

const receiptIssuer = "graft-ledger"

// receiptClaims binds a receipt to one entry's canonical fields. The note is
// carried as a digest so receipts stay small while still covering it.
type receiptClaims struct {
	jwt.RegisteredClaims
	TS         uint64 `json:"ts"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	Snapshot   string `json:"snapshot"`
	NoteSHA256 string `json:"note_sha256"`
}

// ReceiptSigner issues and checks HS256 receipts over ledger entries. A
// receipt proves an entry was written by a holder of the secret and has not
// been edited since.
type ReceiptSigner struct {
	secret []byte
}

// NewReceiptSigner creates a signer from the shared secret.
func NewReceiptSigner(secret string) (*ReceiptSigner, error) {
	if secret == "" {
		return nil, errors.New("receipt secret is empty")
	}
	return &ReceiptSigner{secret: []byte(secret)}, nil
}

// Sign issues a receipt for the entry as it is about to be persisted.
func (s *ReceiptSigner) Sign(entry schemas.EvolutionEntry) (string, error) {
	claims := receiptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   receiptIssuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		TS:         entry.TimestampMS,
		Path:       entry.Path,
		Status:     string(entry.Status),
		Snapshot:   entry.SnapshotCommit,
		NoteSHA256: noteDigest(entry.Note),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the entry's receipt signature and that the signed claims
// still describe the entry. Any mismatch returns ErrReceiptInvalid.
func (s *ReceiptSigner) Verify(entry schemas.EvolutionEntry) error {
	if entry.Receipt == "" {
		return fmt.Errorf("%w: entry carries no receipt", ErrReceiptInvalid)
	}

	var claims receiptClaims
	token, err := jwt.ParseWithClaims(entry.Receipt, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceiptInvalid, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: token rejected", ErrReceiptInvalid)
	}

	switch {
	case claims.TS != entry.TimestampMS:
		return fmt.Errorf("%w: timestamp mismatch", ErrReceiptInvalid)
	case claims.Path != entry.Path:
		return fmt.Errorf("%w: path mismatch", ErrReceiptInvalid)
	case claims.Status != string(entry.Status):
		return fmt.Errorf("%w: status mismatch", ErrReceiptInvalid)
	case claims.Snapshot != entry.SnapshotCommit:
		return fmt.Errorf("%w: snapshot mismatch", ErrReceiptInvalid)
	case claims.NoteSHA256 != noteDigest(entry.Note):
		return fmt.Errorf("%w: note digest mismatch", ErrReceiptInvalid)
	}
	return nil
}

func noteDigest(note string) string {
	sum := sha256.Sum256([]byte(note))
	return hex.EncodeToString(sum[:])
}
