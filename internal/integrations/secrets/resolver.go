package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrMissingCredential is returned when no API key is configured anywhere.
var ErrMissingCredential = errors.New("secrets: no model API key configured")

// ssmAPI is the minimal AWS SSM interface required by Resolver.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Resolver yields the model provider API key. A key taken from the
// environment wins; otherwise the SSM parameter is read once and cached.
// Failed lookups are not cached so a later call can succeed.
type Resolver struct {
	envKey    string
	parameter string
	api       ssmAPI

	mu     sync.Mutex
	cached string
}

type Option func(*Resolver)

// WithEnvKey supplies a key already read from the environment.
func WithEnvKey(key string) Option {
	return func(r *Resolver) {
		r.envKey = strings.TrimSpace(key)
	}
}

// WithParameter configures an SSM SecureString holding either the raw key or
// a {"token": "..."} document.
func WithParameter(api ssmAPI, name string) Option {
	return func(r *Resolver) {
		r.api = api
		r.parameter = strings.TrimSpace(name)
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) APIKey(ctx context.Context) (string, error) {
	if r.envKey != "" {
		return r.envKey, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" {
		return r.cached, nil
	}
	if r.api == nil || r.parameter == "" {
		return "", ErrMissingCredential
	}

	key, err := r.fetch(ctx)
	if err != nil {
		return "", err
	}
	r.cached = key
	return key, nil
}

func (r *Resolver) fetch(ctx context.Context) (string, error) {
	withDecryption := true
	out, err := r.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &r.parameter,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", r.parameter, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value: %w", r.parameter, ErrMissingCredential)
	}
	return parseToken(*out.Parameter.Value)
}

func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("secrets: unmarshal token document: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", fmt.Errorf("secrets: API token is empty: %w", ErrMissingCredential)
	}
	return raw, nil
}
