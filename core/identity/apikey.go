package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/kindalus/antbox-sub000/core/auth"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// APIKey is a secret-based principal: presenting Secret authenticates as
// Group, per spec.md §3/§4.7.
type APIKey struct {
	UUID   string `json:"uuid"`
	Secret string `json:"secret"`
	Group  string `json:"group"`
	Active bool   `json:"active"`
}

// APIKeyService is the admin-only API Key service atop the configuration
// repository.
type APIKeyService struct {
	repo      ConfigRepository[APIKey]
	bySecret  map[string]string // secret -> uuid, kept in sync with repo
	newUUID   func() string
	newSecret func() (string, error)
}

// NewAPIKeyService builds an APIKeyService atop repo.
func NewAPIKeyService(repo ConfigRepository[APIKey]) *APIKeyService {
	s := &APIKeyService{
		repo:     repo,
		bySecret: make(map[string]string),
		newUUID:  uuid.NewString,
		newSecret: func() (string, error) {
			buf := make([]byte, 24)
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			return base64.RawURLEncoding.EncodeToString(buf), nil
		},
	}
	for _, k := range mustList(repo) {
		s.bySecret[k.Secret] = k.UUID
	}
	return s
}

func mustList(repo ConfigRepository[APIKey]) []APIKey {
	keys, err := repo.List(context.Background())
	if err != nil {
		return nil
	}
	return keys
}

// Create generates a new API key for group. Admin-only.
func (s *APIKeyService) Create(ctx context.Context, group string) (APIKey, error) {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return APIKey{}, err
	}
	secret, err := s.newSecret()
	if err != nil {
		return APIKey{}, antboxerrors.Unknown(err)
	}
	key := APIKey{UUID: s.newUUID(), Secret: secret, Group: group, Active: true}
	if err := s.repo.Add(ctx, key.UUID, key); err != nil {
		return APIKey{}, err
	}
	s.bySecret[key.Secret] = key.UUID
	return key, nil
}

// GetByUUID resolves an API key by its uuid.
func (s *APIKeyService) GetByUUID(ctx context.Context, uuid string) (APIKey, error) {
	return s.repo.Get(ctx, uuid)
}

// GetBySecret resolves an API key by its secret, the lookup the
// authentication layer performs on every Api-Key-header request.
func (s *APIKeyService) GetBySecret(ctx context.Context, secret string) (APIKey, error) {
	id, ok := s.bySecret[secret]
	if !ok {
		return APIKey{}, antboxerrors.New(antboxerrors.CodeNodeNotFound, "api key not found", 404)
	}
	key, err := s.repo.Get(ctx, id)
	if err != nil || !key.Active {
		return APIKey{}, antboxerrors.New(antboxerrors.CodeNodeNotFound, "api key not found", 404)
	}
	return key, nil
}

// Delete removes an API key. Admin-only.
func (s *APIKeyService) Delete(ctx context.Context, uuid string) error {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return err
	}
	key, err := s.repo.Get(ctx, uuid)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, uuid); err != nil {
		return err
	}
	delete(s.bySecret, key.Secret)
	return nil
}
