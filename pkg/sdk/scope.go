package sdk

import (
	"fmt"

	"github.com/celerix-dev/celerix-favorites/internal/vault"
)

// AppScope is a store view that "remembers" its persona and application IDs.
type AppScope struct {
	store     KVStore
	personaID string
	appID     string
}

// App returns a scope over store for one persona and app.
func App(store KVStore, personaID, appID string) *AppScope {
	return &AppScope{store: store, personaID: personaID, appID: appID}
}

// Get retrieves a value using the scoped persona and app.
func (a *AppScope) Get(key string) (any, error) {
	return a.store.Get(a.personaID, a.appID, key)
}

// Set stores a value using the scoped persona and app.
func (a *AppScope) Set(key string, val any) error {
	return a.store.Set(a.personaID, a.appID, key, val)
}

// Delete removes a key using the scoped persona and app.
func (a *AppScope) Delete(key string) error {
	return a.store.Delete(a.personaID, a.appID, key)
}

// Vault returns a scope that encrypts values before they reach the store.
func (a *AppScope) Vault(masterKey []byte) *VaultScope {
	return &VaultScope{app: a, masterKey: masterKey}
}

// VaultScope provides client-side encryption for sensitive data.
type VaultScope struct {
	app       *AppScope
	masterKey []byte
}

// Set encrypts the plaintext and stores it in the scoped app.
func (v *VaultScope) Set(key string, plaintext string) error {
	ciphertext, err := vault.Encrypt(plaintext, v.masterKey)
	if err != nil {
		return err
	}
	return v.app.Set(key, ciphertext)
}

// Get retrieves and decrypts a value from the scoped app.
func (v *VaultScope) Get(key string) (string, error) {
	val, err := v.app.Get(key)
	if err != nil {
		return "", err
	}

	ciphertext, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault data is not a string")
	}
	return vault.Decrypt(ciphertext, v.masterKey)
}
