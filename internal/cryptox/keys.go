package cryptox

import (
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/securechat/internal/common"
	"golang.org/x/crypto/nacl/box"
)

const saltSize = 16

// GenerateKeyPair creates a new X25519 keypair for sealed boxes.
func GenerateKeyPair() (publicKey, privateKey *[32]byte, err error) {
	publicKey, privateKey, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key generation: %v", common.ErrCrypto, err)
	}
	return publicKey, privateKey, nil
}

// ArmorPublicKey encodes a public key as a PEM block.
func ArmorPublicKey(publicKey *[32]byte) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  common.PublicKeyArmorType,
		Bytes: publicKey[:],
	}))
}

// ParsePublicKey decodes an armored public key. Anything other than a
// single well-formed block of the expected type and size is ErrKeyFormat.
func ParsePublicKey(armored string) (*[32]byte, error) {
	if !strings.HasPrefix(strings.TrimSpace(armored), "-----BEGIN "+common.PublicKeyArmorType+"-----") {
		return nil, fmt.Errorf("%w: missing armor header", common.ErrKeyFormat)
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(armored)))
	if block == nil {
		return nil, fmt.Errorf("%w: cannot decode armor", common.ErrKeyFormat)
	}
	if block.Type != common.PublicKeyArmorType {
		return nil, fmt.Errorf("%w: unexpected block type %q", common.ErrKeyFormat, block.Type)
	}
	if len(block.Bytes) != 32 {
		return nil, fmt.Errorf("%w: unexpected key length %d", common.ErrKeyFormat, len(block.Bytes))
	}

	var key [32]byte
	copy(key[:], block.Bytes)
	return &key, nil
}

// SealWithPassphrase serializes v to JSON and encrypts it with AES-GCM under
// a key derived from passphrase and a random salt. The salt is prefixed to
// the result.
func SealWithPassphrase(v any, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase is not set", common.ErrConfiguration)
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(key)

	sealed, err := sealAEAD(key, plaintext, salt)
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

// OpenWithPassphrase decrypts data produced by SealWithPassphrase and
// unmarshals the JSON into v. A wrong passphrase yields ErrCrypto.
func OpenWithPassphrase(data, passphrase []byte, v any) error {
	if len(data) < saltSize {
		return fmt.Errorf("%w: sealed data too short", common.ErrCrypto)
	}
	salt, sealed := data[:saltSize], data[saltSize:]

	key := DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(key)

	plaintext, err := openAEAD(key, sealed, salt)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}
