package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultBaseURL = "http://localhost:3001"

// Profile is the persisted CLI session.
type Profile struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
	Email   string `yaml:"email,omitempty"`
	Name    string `yaml:"name,omitempty"`
}

// Flags override profile values for one invocation.
type Flags struct {
	URL string
}

// LoadProfile reads path. A missing file yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	p.BaseURL = expandEnv(p.BaseURL)
	return &p, nil
}

// Save writes the profile with owner-only permissions.
func (p *Profile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create profile dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// GetBaseURL resolves the API address: flag, then TICKETCTL_URL, then profile.
func (p *Profile) GetBaseURL(flags *Flags) string {
	if flags != nil && flags.URL != "" {
		return flags.URL
	}
	if env := os.Getenv("TICKETCTL_URL"); env != "" {
		return env
	}
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return defaultBaseURL
}

// GetToken resolves the bearer token: TICKETCTL_TOKEN, then profile.
func (p *Profile) GetToken() string {
	if env := os.Getenv("TICKETCTL_TOKEN"); env != "" {
		return env
	}
	return p.Token
}

// Clear forgets the session but keeps the address.
func (p *Profile) Clear() {
	p.Token = ""
	p.Email = ""
	p.Name = ""
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ticketctl.yaml"
	}
	return filepath.Join(home, ".ticketctl.yaml")
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}
