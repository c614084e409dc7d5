package config

// CredentialRegistry holds provider API credentials used by agent adapters
// (opencode's model client, the subprocess family's env injection).
type CredentialRegistry struct {
	Providers ProviderCredentials `json:"providers"`
}

// ProviderCredentials holds AI provider API credentials.
type ProviderCredentials struct {
	Credentials map[string]ProviderCredential `json:"credentials"`
	Default     string                        `json:"default"`
}

// ProviderCredential is a single provider API key (Anthropic, OpenAI, etc.).
type ProviderCredential struct {
	Provider    string `json:"provider"` // anthropic, openai, google
	APIKey      string `json:"api_key"`
	Description string `json:"description"`
}

// GetProviderCredential returns a provider credential by name.
func (r *CredentialRegistry) GetProviderCredential(name string) (*ProviderCredential, bool) {
	cred, ok := r.Providers.Credentials[name]
	if !ok {
		return nil, false
	}
	return &cred, true
}

// GetDefaultProviderCredential returns the default provider credential.
func (r *CredentialRegistry) GetDefaultProviderCredential() (*ProviderCredential, bool) {
	if r.Providers.Default == "" {
		return nil, false
	}
	return r.GetProviderCredential(r.Providers.Default)
}

// HasProviderCredential checks if a provider credential exists.
func (r *CredentialRegistry) HasProviderCredential(name string) bool {
	_, ok := r.Providers.Credentials[name]
	return ok
}

// ProviderCredentialInfo includes provider type for API responses.
type ProviderCredentialInfo struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// ListCredentials returns all provider credentials without API keys.
func (r *CredentialRegistry) ListCredentials() []ProviderCredentialInfo {
	result := make([]ProviderCredentialInfo, 0, len(r.Providers.Credentials))
	for name, cred := range r.Providers.Credentials {
		result = append(result, ProviderCredentialInfo{
			Name:        name,
			Provider:    cred.Provider,
			Description: cred.Description,
			IsDefault:   name == r.Providers.Default,
		})
	}
	return result
}

// ProviderEnvVar returns the environment variable name a subprocess adapter
// should set for a given provider.
func ProviderEnvVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}
