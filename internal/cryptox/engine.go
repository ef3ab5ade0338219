// Package cryptox implements the hybrid encryption pipeline of the relay.
//
// Two independent paths exist. The storage path seals content under a fresh
// random data key that is itself wrapped under a master key derived from the
// operator passphrase; only the server can open it. The transport path seals
// content directly under one recipient's public key with an anonymous NaCl
// box; a stored envelope is never forwarded as is.
package cryptox

import (
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"golang.org/x/crypto/nacl/box"
)

// Additional data labels keep message keys and file keys apart: a wrapped
// key of one kind cannot be opened as the other.
const (
	domainMessage = "securechat/message/v1"
	domainFile    = "securechat/file/v1"
)

// ServerKeySource provides the server keypair used on the inbound leg.
// It returns common.ErrNotReady until the keypair is initialized.
type ServerKeySource interface {
	ServerKeyPair() (publicKey, privateKey *[32]byte, err error)
}

// Engine is stateless apart from the derived master key; it is safe for
// concurrent use.
type Engine struct {
	masterKey []byte
	ivSecret  []byte
	keys      ServerKeySource
}

// NewEngine derives the master key from passphrase, salted with ivSecret.
// Both are mandatory and their absence is reported as ErrConfiguration.
func NewEngine(passphrase string, ivSecret []byte, keys ServerKeySource) (*Engine, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: storage passphrase is not set", common.ErrConfiguration)
	}
	if len(ivSecret) == 0 {
		return nil, fmt.Errorf("%w: IV secret is not set", common.ErrConfiguration)
	}

	return &Engine{
		masterKey: DeriveMasterKey([]byte(passphrase), ivSecret),
		ivSecret:  append([]byte(nil), ivSecret...),
		keys:      keys,
	}, nil
}

// SealForStorage encrypts plaintext under a fresh data key and wraps that
// key under the master key.
func (e *Engine) SealForStorage(plaintext []byte) (ciphertext, wrappedKey []byte, err error) {
	return e.sealEnvelope(plaintext, domainMessage)
}

// OpenForStorageOwner unwraps the data key and decrypts ciphertext.
func (e *Engine) OpenForStorageOwner(ciphertext, wrappedKey []byte) ([]byte, error) {
	return e.openEnvelope(ciphertext, wrappedKey, domainMessage)
}

// SealFile is the file counterpart of SealForStorage. It uses its own
// per-file data key and cannot be opened through OpenForStorageOwner.
func (e *Engine) SealFile(data []byte) (ciphertext, wrappedKey []byte, err error) {
	return e.sealEnvelope(data, domainFile)
}

// OpenFile decrypts a blob produced by SealFile.
func (e *Engine) OpenFile(ciphertext, wrappedKey []byte) ([]byte, error) {
	return e.openEnvelope(ciphertext, wrappedKey, domainFile)
}

// SealForRecipient seals plaintext for the holder of armoredPublicKey.
// A key that cannot be parsed yields ErrKeyFormat.
func (e *Engine) SealForRecipient(plaintext []byte, armoredPublicKey string) ([]byte, error) {
	return SealFor(plaintext, armoredPublicKey)
}

// SealFor seals plaintext for the holder of armoredPublicKey with an
// anonymous box. Clients use it to seal content for the server.
func SealFor(plaintext []byte, armoredPublicKey string) ([]byte, error) {
	pub, err := ParsePublicKey(armoredPublicKey)
	if err != nil {
		return nil, err
	}

	sealed, err := box.SealAnonymous(nil, plaintext, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}
	return sealed, nil
}

// OpenFromSender opens content a client sealed for the server's own public
// key. It fails with ErrNotReady before the server keypair exists.
func (e *Engine) OpenFromSender(transportCiphertext []byte) ([]byte, error) {
	if e.keys == nil {
		return nil, common.ErrNotReady
	}
	pub, priv, err := e.keys.ServerKeyPair()
	if err != nil {
		return nil, err
	}
	return OpenForRecipient(transportCiphertext, pub, priv)
}

// OpenForRecipient opens a transport ciphertext with the recipient keypair.
// The server never calls it for user keys; clients and tests do.
func OpenForRecipient(transportCiphertext []byte, publicKey, privateKey *[32]byte) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, transportCiphertext, publicKey, privateKey)
	if !ok {
		return nil, fmt.Errorf("%w: cannot open sealed box", common.ErrCrypto)
	}
	return plaintext, nil
}

func (e *Engine) aad(domain string) []byte {
	aad := make([]byte, 0, len(domain)+len(e.ivSecret))
	aad = append(aad, domain...)
	return append(aad, e.ivSecret...)
}

func (e *Engine) sealEnvelope(plaintext []byte, domain string) ([]byte, []byte, error) {
	if e == nil || len(e.masterKey) == 0 || len(e.ivSecret) == 0 {
		return nil, nil, fmt.Errorf("%w: engine has no master key", common.ErrConfiguration)
	}

	dataKey := common.GenerateRandByteArray(KeySize)
	defer common.WipeByteArray(dataKey)

	aad := e.aad(domain)
	ciphertext, err := sealAEAD(dataKey, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	wrappedKey, err := sealAEAD(e.masterKey, dataKey, aad)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, wrappedKey, nil
}

func (e *Engine) openEnvelope(ciphertext, wrappedKey []byte, domain string) ([]byte, error) {
	if e == nil || len(e.masterKey) == 0 || len(e.ivSecret) == 0 {
		return nil, fmt.Errorf("%w: engine has no master key", common.ErrConfiguration)
	}

	aad := e.aad(domain)
	dataKey, err := openAEAD(e.masterKey, wrappedKey, aad)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	defer common.WipeByteArray(dataKey)

	if len(dataKey) != KeySize {
		return nil, fmt.Errorf("%w: unexpected data key length %d", common.ErrCrypto, len(dataKey))
	}

	plaintext, err := openAEAD(dataKey, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt content: %w", err)
	}
	return plaintext, nil
}
