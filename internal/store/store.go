// Package store keeps named connection profiles.
package store

import (
	"context"
	"errors"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
)

var (
	ErrNameEmpty       = errors.New("profile name is empty")
	ErrProfileNotFound = errors.New("profile does not exist")
)

// ProfileStore resolves environment names to connection configs.
type ProfileStore interface {
	Get(ctx context.Context, name string) (config.Connection, error)
	Save(ctx context.Context, profile config.Connection) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]config.Connection, error)
}

// Chain asks each store in order; the first store that knows a profile wins.
// Writes go to the first store.
type Chain []ProfileStore

func (c Chain) Get(ctx context.Context, name string) (config.Connection, error) {
	for _, s := range c {
		profile, err := s.Get(ctx, name)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return config.Connection{}, err
		}
	}
	return config.Connection{}, ErrProfileNotFound
}

func (c Chain) Save(ctx context.Context, profile config.Connection) error {
	if len(c) == 0 {
		return errors.New("no profile store configured")
	}
	return c[0].Save(ctx, profile)
}

func (c Chain) Delete(ctx context.Context, name string) error {
	if len(c) == 0 {
		return nil
	}
	return c[0].Delete(ctx, name)
}

func (c Chain) List(ctx context.Context) ([]config.Connection, error) {
	seen := make(map[string]struct{})
	var result []config.Connection
	for _, s := range c {
		profiles, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			result = append(result, p)
		}
	}
	return result, nil
}
