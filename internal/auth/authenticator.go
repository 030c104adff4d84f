package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"device-monitor/internal/config"
)

var (
	ErrUnknownKey  = errors.New("unknown API key")
	ErrWrongDevice = errors.New("API key not issued for this device")
)

// KeyLookup resolves an API key to the device it was issued to. An unknown
// key yields an empty ID and no error.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type grant struct {
	deviceID  string
	expiresAt time.Time
}

// Authenticator checks device API keys: configured master keys first, then
// grants cached from earlier lookups, then the key store.
type Authenticator struct {
	masterKeys map[string]struct{}
	grants     sync.Map // api key -> grant
	keys       KeyLookup
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthenticator builds an Authenticator. keys may be nil, in which case
// only the master keys are accepted.
func NewAuthenticator(cfg *config.Config, keys KeyLookup) *Authenticator {
	master := make(map[string]struct{}, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			master[k] = struct{}{}
		}
	}

	return &Authenticator{
		masterKeys: master,
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		now:        time.Now,
	}
}

// Authorize returns nil when apiKey may post readings for deviceID. Master
// keys cover every device; issued keys only their own. Lookup failures are
// returned wrapped and are not cached.
func (a *Authenticator) Authorize(ctx context.Context, apiKey, deviceID string) error {
	if _, ok := a.masterKeys[apiKey]; ok {
		return nil
	}

	owner, err := a.owner(ctx, apiKey)
	if err != nil {
		return err
	}
	if owner != deviceID {
		return ErrWrongDevice
	}
	return nil
}

func (a *Authenticator) owner(ctx context.Context, apiKey string) (string, error) {
	if raw, ok := a.grants.Load(apiKey); ok {
		g := raw.(grant)
		if a.now().Before(g.expiresAt) {
			return g.deviceID, nil
		}
		a.grants.Delete(apiKey)
	}

	if a.keys == nil || apiKey == "" {
		return "", ErrUnknownKey
	}

	deviceID, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("look up API key: %w", err)
	}
	if deviceID == "" {
		return "", ErrUnknownKey
	}

	a.grants.Store(apiKey, grant{deviceID: deviceID, expiresAt: a.now().Add(a.ttl)})
	return deviceID, nil
}

// Forget drops cached grants for a device so its keys are looked up again.
func (a *Authenticator) Forget(deviceID string) {
	a.grants.Range(func(k, v any) bool {
		if v.(grant).deviceID == deviceID {
			a.grants.Delete(k)
		}
		return true
	})
}
