package admin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/pbartlett/gatehouse/internal/util"
)

// secretFileName is where a development deployment persists its generated
// secret, under the data directory.
const secretFileName = "admin_token_secret"

// SecretProvider hands out the secret that signs privileged admin tokens.
//
// A configured secret is used verbatim. Without one, production deployments
// fail closed with ErrMisconfiguredSecret, while development deployments
// generate a 256-bit secret on first use and persist it owner-only so tokens
// survive restarts. The secret lives in a memguard enclave between uses.
type SecretProvider struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	path    string
	dev     bool
}

// NewSecretProvider builds a provider. configured is the externally supplied
// secret, empty when none was given. dataDir is where a development
// deployment keeps its generated secret.
func NewSecretProvider(configured, dataDir string, dev bool) *SecretProvider {
	p := &SecretProvider{
		path: filepath.Join(dataDir, secretFileName),
		dev:  dev,
	}
	if configured != "" {
		p.enclave = memguard.NewEnclave([]byte(configured))
	}
	return p
}

// Secret returns a copy of the signing secret. The caller owns the copy and
// must wipe it after use.
func (p *SecretProvider) Secret() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enclave == nil {
		if !p.dev {
			return nil, ErrMisconfiguredSecret
		}
		secret, err := p.loadOrCreate()
		if err != nil {
			return nil, err
		}
		p.enclave = memguard.NewEnclave(secret)
	}

	buf, err := p.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return util.CopyBytes(buf.Bytes()), nil
}

// loadOrCreate reads the persisted development secret, generating one on
// first use. Creation is O_EXCL so two processes racing on the same data
// directory converge: the loser re-reads the winner's file.
func (p *SecretProvider) loadOrCreate() ([]byte, error) {
	raw, err := os.ReadFile(p.path)
	if err == nil {
		if len(raw) == 0 {
			return nil, fmt.Errorf("persisted admin secret %s is empty", p.path)
		}
		return raw, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading admin secret: %w", err)
	}

	random, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	secret := []byte(util.HexEncode(random))
	util.WipeBytes(random)

	if err := writeExclusive(p.path, secret); err != nil {
		if errors.Is(err, os.ErrExist) {
			util.WipeBytes(secret)
			raw, rerr := os.ReadFile(p.path)
			if rerr != nil {
				return nil, fmt.Errorf("re-reading admin secret after create race: %w", rerr)
			}
			if len(raw) == 0 {
				return nil, fmt.Errorf("persisted admin secret %s is empty", p.path)
			}
			return raw, nil
		}
		return nil, fmt.Errorf("persisting admin secret: %w", err)
	}
	return secret, nil
}

// writeExclusive creates path with owner-only permissions, failing with
// os.ErrExist if the file is already there.
func writeExclusive(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
