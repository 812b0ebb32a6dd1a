/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// Service/keys for the OS keyring.
const (
	keyringService = "MathSketch"
	keyringAPIKey  = "recognizer_api_key"
)

// ErrNoSecret is returned by TokenStore.Get when nothing is stored.
var ErrNoSecret = errors.New("secret not found")

// TokenStore abstracts the keychain so tests can stub it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

var tokenStore TokenStore = osKeyring{}

// SetTokenStore swaps the keychain backend and returns the previous one.
func SetTokenStore(ts TokenStore) TokenStore {
	prev := tokenStore
	tokenStore = ts
	return prev
}

// DeleteAPIKey removes the stored recognizer key. Missing keys are not an error.
func DeleteAPIKey() error {
	if err := tokenStore.Delete(keyringService, keyringAPIKey); err != nil && !errors.Is(err, ErrNoSecret) {
		return err
	}
	return nil
}

// osKeyring stores secrets via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) {
	v, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoSecret
	}
	return v, err
}

func (osKeyring) Set(service, key, value string) error {
	return keyring.Set(service, key, value)
}

func (osKeyring) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNoSecret
	}
	return err
}
