// Package keys is the key directory of the relay: it owns the server
// keypair and fronts the registered public keys of users.
package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/cryptox"
	"github.com/dmitrijs2005/securechat/internal/logging"
)

// UserStore is the part of the user directory the key directory needs.
type UserStore interface {
	// GetPublicKey returns "" for a user without a key and
	// common.ErrNotFound for an unknown user.
	GetPublicKey(ctx context.Context, userID string) (string, error)
	SetPublicKey(ctx context.Context, userID, publicKey string) error
}

// Directory is safe for concurrent use. The server keypair is created once
// by Init; until Init finishes every accessor fails with common.ErrNotReady.
type Directory struct {
	users      UserStore
	passphrase []byte
	keyFile    string
	log        logging.Logger

	once  sync.Once
	ready chan struct{}

	mu      sync.RWMutex
	pub     *[32]byte
	priv    *[32]byte
	armored string
	initErr error
}

type sealedKeyPair struct {
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// NewDirectory builds a directory. passphrase protects the private key at
// rest in keyFile; an empty keyFile keeps the keypair in memory only.
func NewDirectory(users UserStore, passphrase string, keyFile string, log logging.Logger) *Directory {
	return &Directory{
		users:      users,
		passphrase: []byte(passphrase),
		keyFile:    keyFile,
		log:        log.With("module", "keys"),
		ready:      make(chan struct{}),
	}
}

// Init loads the server keypair from the key file or generates a new one.
// Only the first call does any work; later calls return its result.
func (d *Directory) Init(ctx context.Context) error {
	d.once.Do(func() {
		pub, priv, err := d.loadOrGenerate(ctx)

		d.mu.Lock()
		if err != nil {
			d.initErr = err
			d.mu.Unlock()
			d.log.Error(ctx, "server keypair initialization failed", "error", err)
			return
		}
		d.pub, d.priv = pub, priv
		d.armored = cryptox.ArmorPublicKey(pub)
		d.mu.Unlock()

		close(d.ready)
		d.log.Info(ctx, "server keypair ready")
	})

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initErr
}

// Ready is closed once Init has loaded the keypair. It stays open when
// Init fails.
func (d *Directory) Ready() <-chan struct{} {
	return d.ready
}

// ServerKeyPair implements cryptox.ServerKeySource.
func (d *Directory) ServerKeyPair() (*[32]byte, *[32]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.pub == nil {
		return nil, nil, d.notReady()
	}
	return d.pub, d.priv, nil
}

// ServerPublicKey returns the armored server public key.
func (d *Directory) ServerPublicKey() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.pub == nil {
		return "", d.notReady()
	}
	return d.armored, nil
}

func (d *Directory) notReady() error {
	if d.initErr != nil {
		return fmt.Errorf("%w: %v", common.ErrNotReady, d.initErr)
	}
	return common.ErrNotReady
}

// KeyExchange registers the armored public key of userID and answers with
// the server public key. A key without the expected armor is rejected with
// common.ErrKeyFormat and nothing is stored.
func (d *Directory) KeyExchange(ctx context.Context, userID, armoredPublicKey string) (string, error) {
	serverKey, err := d.ServerPublicKey()
	if err != nil {
		return "", err
	}
	if _, err := cryptox.ParsePublicKey(armoredPublicKey); err != nil {
		return "", err
	}
	if err := d.users.SetPublicKey(ctx, userID, armoredPublicKey); err != nil {
		return "", fmt.Errorf("store public key: %w", err)
	}

	d.log.Info(ctx, "public key registered", "user_id", userID)
	return serverKey, nil
}

// GetPublicKey returns the armored key of userID. Both an unknown user and
// a user who never exchanged keys yield common.ErrKeyNotFound.
func (d *Directory) GetPublicKey(ctx context.Context, userID string) (string, error) {
	key, err := d.users.GetPublicKey(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", fmt.Errorf("%w: user %s", common.ErrKeyNotFound, userID)
		}
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: user %s", common.ErrKeyNotFound, userID)
	}
	return key, nil
}

func (d *Directory) loadOrGenerate(ctx context.Context) (*[32]byte, *[32]byte, error) {
	if len(d.passphrase) == 0 {
		return nil, nil, fmt.Errorf("%w: key generation passphrase is not set", common.ErrConfiguration)
	}

	if d.keyFile != "" {
		data, err := os.ReadFile(d.keyFile)
		switch {
		case err == nil:
			d.log.Info(ctx, "loading server keypair", "path", d.keyFile)
			return d.open(data)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, nil, fmt.Errorf("read key file: %w", err)
		}
	}

	pub, priv, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	if d.keyFile != "" {
		sealed, err := cryptox.SealWithPassphrase(sealedKeyPair{PublicKey: pub[:], PrivateKey: priv[:]}, d.passphrase)
		if err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(d.keyFile, sealed, 0o600); err != nil {
			return nil, nil, fmt.Errorf("write key file: %w", err)
		}
		d.log.Info(ctx, "generated server keypair", "path", d.keyFile)
	}
	return pub, priv, nil
}

func (d *Directory) open(data []byte) (*[32]byte, *[32]byte, error) {
	var kp sealedKeyPair
	if err := cryptox.OpenWithPassphrase(data, d.passphrase, &kp); err != nil {
		return nil, nil, fmt.Errorf("open key file: %w", err)
	}
	defer common.WipeByteArray(kp.PrivateKey)

	if len(kp.PublicKey) != 32 || len(kp.PrivateKey) != 32 {
		return nil, nil, fmt.Errorf("%w: key file holds a malformed keypair", common.ErrCrypto)
	}

	var pub, priv [32]byte
	copy(pub[:], kp.PublicKey)
	copy(priv[:], kp.PrivateKey)
	return &pub, &priv, nil
}
