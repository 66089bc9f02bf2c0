package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that ended up empty. Error and RedactedNames only
// expose hashes so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names, sorted.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns a short hash per missing field, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

var errNoSecretResolver = errors.New("no secret resolver configured")

// secretField binds a config field that may hold a secret:// (or legacy sm://) reference.
type secretField struct {
	name   string
	target *string
}

func (c *Config) secretFields() []secretField {
	return []secretField{
		{"Supplier.Token", &c.Supplier.Token},
		{"AddressVerification.APIKey", &c.AddressVerification.APIKey},
		{"PSP.StripeAPIKey", &c.PSP.StripeAPIKey},
	}
}

// resolveSecrets replaces secret references with their values in place.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	for _, field := range cfg.secretFields() {
		value := strings.TrimSpace(*field.target)
		if ref, ok := secretReference(value); ok {
			if resolver == nil {
				return &SecretError{Ref: ref, Err: errNoSecretResolver}
			}
			secret, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return &SecretError{Ref: ref, Err: err}
			}
			value = strings.TrimSpace(secret)
		}
		*field.target = value
	}
	return nil
}

func (c *Config) missingSecrets(required []string) error {
	resolved := map[string]string{}
	for _, field := range c.secretFields() {
		resolved[field.name] = *field.target
	}
	var missing []string
	seen := map[string]bool{}
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingSecretsError{names: missing}
	}
	return nil
}

func secretReference(value string) (string, bool) {
	switch {
	case strings.HasPrefix(value, "secret://"):
		return value, true
	case strings.HasPrefix(value, "sm://"):
		return "secret://" + strings.TrimPrefix(value, "sm://"), true
	default:
		return "", false
	}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
