package signin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const nonceBytes = 48

// NewNonce returns 48 random bytes, hex encoded.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type Message struct {
	Domain   string
	URI      string
	Address  string
	ChainID  int
	Nonce    string
	IssuedAt time.Time
}

// String renders the sign-in text the service expects.
func (m Message) String() string {
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n%s\n\n\nURI: %s\nVersion: 1\nChain ID: %d\nNonce: %s\nIssued At: %s",
		m.Domain, m.Address, m.URI, m.ChainID, m.Nonce, m.IssuedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
}
