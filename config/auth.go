package config

import (
	"time"

	auth "github.com/goliatone/go-blog-auth"
)

var _ auth.Config = AuthConfig{}

func (a AuthConfig) GetSigningKey() string {
	return a.SigningKey
}

func (a AuthConfig) GetSigningKeyID() string {
	return a.SigningKeyID
}

func (a AuthConfig) GetRetiredSigningKeys() map[string]string {
	out := make(map[string]string, len(a.RetiredSigningKeys))
	for kid, key := range a.RetiredSigningKeys {
		out[kid] = key
	}
	return out
}

func (a AuthConfig) GetIssuer() string {
	return a.Issuer
}

func (a AuthConfig) GetAudience() []string {
	out := make([]string, len(a.Audience))
	copy(out, a.Audience)
	return out
}

func (a AuthConfig) GetAccessTokenTTL() time.Duration {
	return a.AccessTokenTTL
}

func (a AuthConfig) GetRefreshTokenTTL() time.Duration {
	return a.RefreshTokenTTL
}

func (a AuthConfig) GetExtendedRefreshTokenTTL() time.Duration {
	return a.ExtendedRefreshTokenTTL
}

func (a AuthConfig) GetDefaultRole() string {
	return a.DefaultRole
}

func (a AuthConfig) GetPasswordCost() int {
	return a.PasswordCost
}
