package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestResolveAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
	}{
		{name: "explicit wins", explicit: "sk-explicit", env: map[string]string{APIKeyEnv: "sk-env"}, want: "sk-explicit"},
		{name: "environment", env: map[string]string{APIKeyEnv: " sk-env "}, want: "sk-env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ResolveAPIKey(tt.explicit, env(tt.env))
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestResolveAPIKeyMissing(t *testing.T) {
	for _, lookup := range []func(string) (string, bool){
		nil,
		env(nil),
		env(map[string]string{APIKeyEnv: "  "}),
	} {
		_, err := ResolveAPIKey("", lookup)

		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "anthropic.api_key", cfgErr.Field)
		assert.Contains(t, err.Error(), APIKeyEnv)
	}
}

func TestInputErrorUnwraps(t *testing.T) {
	cause := errors.New("cause")
	err := &InputError{Param: "messages", Message: "bad", Err: cause}

	assert.Equal(t, "messages: bad", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad", (&InputError{Message: "bad"}).Error())
}
