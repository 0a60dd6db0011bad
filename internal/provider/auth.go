package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// Credential names used by the built-in profiles.
const (
	CredVideoAPIKey    = "video_api_key"
	CredImageAPIKey    = "image_api_key"
	CredKlingAccessKey = "kling_access_key"
	CredKlingSecretKey = "kling_secret_key"
	CredBeamToken      = "beam_token"
	CredRunPodAPIKey   = "runpod_api_key"
)

// Credentials maps credential names to secret values. It is passed to the
// transport explicitly instead of being read from the process environment.
type Credentials map[string]string

// Get returns the named credential or ErrUnconfigured when it is empty.
func (c Credentials) Get(name string) (string, error) {
	v := strings.TrimSpace(c[name])
	if v == "" {
		return "", fmt.Errorf("%w: credential %q is not set", ErrUnconfigured, name)
	}
	return v, nil
}

// Has reports whether the named credential is set.
func (c Credentials) Has(name string) bool {
	return strings.TrimSpace(c[name]) != ""
}

// Configured reports whether every credential the profile needs is present
// and its submission endpoint is known.
func (c Credentials) Configured(p Profile) bool {
	if p.Submit.URL == "" {
		return false
	}
	switch p.Auth.Scheme {
	case AuthNone:
		return true
	case AuthKlingJWT:
		return c.Has(p.Auth.Credential) && c.Has(p.Auth.SecretCredential)
	default:
		return c.Has(p.Auth.Credential)
	}
}

// AuthHeader builds the authentication header for a profile.
// It returns an empty name when the profile needs no authentication.
func AuthHeader(spec AuthSpec, creds Credentials, now time.Time) (name, value string, err error) {
	switch spec.Scheme {
	case AuthNone:
		return "", "", nil
	case AuthAPIKeyHeader:
		key, err := creds.Get(spec.Credential)
		if err != nil {
			return "", "", err
		}
		header := spec.Header
		if header == "" {
			header = "Authorization"
		}
		return header, key, nil
	case AuthKlingJWT:
		access, err := creds.Get(spec.Credential)
		if err != nil {
			return "", "", err
		}
		secret, err := creds.Get(spec.SecretCredential)
		if err != nil {
			return "", "", err
		}
		token, err := klingToken(access, secret, now)
		if err != nil {
			return "", "", err
		}
		return "Authorization", "Bearer " + token, nil
	default:
		key, err := creds.Get(spec.Credential)
		if err != nil {
			return "", "", err
		}
		return "Authorization", "Bearer " + key, nil
	}
}

// klingToken signs the short-lived HS256 token Kling expects.
func klingToken(accessKey, secretKey string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": accessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = "JWT"
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("provider: sign kling token: %w", err)
	}
	return signed, nil
}
