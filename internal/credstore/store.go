package credstore

import (
	"errors"
	"strings"
	"sync"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

var ErrBlankCredential = errors.New("credential value must not be blank")

// Store is the durable key/value contract. Implementations hold opaque
// strings and carry no policy about what the keys mean.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// Pair is the access/refresh credential pair. It is only ever persisted or
// cleared as a unit; a lone access token reads back as no session.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Keeper layers the pair invariant over a Store: Load returns credentials
// only when both halves are present, Save and Clear replace the pair as a
// unit under one lock.
type Keeper struct {
	mu    sync.Mutex
	store Store
}

func NewKeeper(store Store) *Keeper {
	if store == nil {
		panic("credstore.NewKeeper: store must not be nil")
	}
	return &Keeper{store: store}
}

func (k *Keeper) Load() (Pair, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	access, okAccess := k.store.Get(keyAccessToken)
	refresh, okRefresh := k.store.Get(keyRefreshToken)
	if !okAccess || !okRefresh || strings.TrimSpace(access) == "" || strings.TrimSpace(refresh) == "" {
		return Pair{}, false
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, true
}

// RefreshToken returns the stored refresh credential on its own. The refresh
// protocol needs it even when the access half is already unusable.
func (k *Keeper) RefreshToken() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	refresh, ok := k.store.Get(keyRefreshToken)
	if !ok || strings.TrimSpace(refresh) == "" {
		return "", false
	}
	return refresh, true
}

func (k *Keeper) AccessToken() (string, bool) {
	pair, ok := k.Load()
	if !ok {
		return "", false
	}
	return pair.AccessToken, true
}

func (k *Keeper) Save(pair Pair) error {
	if strings.TrimSpace(pair.AccessToken) == "" || strings.TrimSpace(pair.RefreshToken) == "" {
		return ErrBlankCredential
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.store.Set(keyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	return k.store.Set(keyRefreshToken, pair.RefreshToken)
}

func (k *Keeper) Clear() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	accessErr := k.store.Remove(keyAccessToken)
	refreshErr := k.store.Remove(keyRefreshToken)
	if accessErr != nil {
		return accessErr
	}
	return refreshErr
}
