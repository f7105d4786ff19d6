package provider

import "strings"

// APIKeyEnv is the environment variable consulted when no key is configured.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// ResolveAPIKey returns the explicit key when set, otherwise the value of
// APIKeyEnv from lookup. A missing key is a *ConfigError.
func ResolveAPIKey(explicit string, lookup func(string) (string, bool)) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if lookup != nil {
		if key, ok := lookup(APIKeyEnv); ok && strings.TrimSpace(key) != "" {
			return strings.TrimSpace(key), nil
		}
	}
	return "", &ConfigError{
		Field:   "anthropic.api_key",
		Message: "no API key configured and " + APIKeyEnv + " is not set",
	}
}
