package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
)

// KeyPair is the user's transport keypair.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// Armored returns the public key in the form the relay accepts.
func (k *KeyPair) Armored() string {
	return cryptox.ArmorPublicKey(k.Public)
}

// Open opens a payload the relay sealed for this user.
func (k *KeyPair) Open(payload []byte) ([]byte, error) {
	return cryptox.OpenForRecipient(payload, k.Public, k.Private)
}

type storedKeyPair struct {
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// LoadOrCreateKeyPair opens the keypair in path with passphrase, or
// generates one and writes it there sealed. created reports the latter.
func LoadOrCreateKeyPair(path string, passphrase []byte) (kp *KeyPair, created bool, err error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		kp, err := openKeyPair(data, passphrase)
		return kp, false, err
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("read key file: %w", err)
	}

	pub, priv, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	sealed, err := cryptox.SealWithPassphrase(storedKeyPair{PublicKey: pub[:], PrivateKey: priv[:]}, passphrase)
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, false, fmt.Errorf("write key file: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, true, nil
}

func openKeyPair(data, passphrase []byte) (*KeyPair, error) {
	var s storedKeyPair
	if err := cryptox.OpenWithPassphrase(data, passphrase, &s); err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer common.WipeByteArray(s.PrivateKey)

	if len(s.PublicKey) != 32 || len(s.PrivateKey) != 32 {
		return nil, fmt.Errorf("%w: key file holds a malformed keypair", common.ErrCrypto)
	}
	var pub, priv [32]byte
	copy(pub[:], s.PublicKey)
	copy(priv[:], s.PrivateKey)
	return &KeyPair{Public: &pub, Private: &priv}, nil
}
