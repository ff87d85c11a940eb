package content

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const siteConfigFileName = "site.yaml"

// SiteConfig is the per-site configuration document.
type SiteConfig struct {
	Name        string           `yaml:"name" json:"name"`
	DisplayName string           `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Author      string           `yaml:"author,omitempty" json:"author,omitempty"`
	Domain      string           `yaml:"domain,omitempty" json:"domain,omitempty"`
	Deployment  DeploymentConfig `yaml:"deployment,omitempty" json:"deployment,omitempty"`
}

// DeploymentConfig selects and parameterizes the deploy protocol.
// Credentials are indirected through environment variable names; secret
// values never land in the config file.
type DeploymentConfig struct {
	Protocol string            `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Local    LocalDeployConfig `yaml:"local,omitempty" json:"local,omitempty"`
	S3       S3DeployConfig    `yaml:"s3,omitempty" json:"s3,omitempty"`
	Azure    AzureDeployConfig `yaml:"azure,omitempty" json:"azure,omitempty"`
}

// LocalDeployConfig deploys by copying into a local directory.
type LocalDeployConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// S3DeployConfig deploys to an S3-compatible object store.
type S3DeployConfig struct {
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Bucket       string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	UseSSL       bool   `yaml:"useSSL,omitempty" json:"useSSL,omitempty"`
	AccessKeyEnv string `yaml:"accessKeyEnv,omitempty" json:"accessKeyEnv,omitempty"`
	SecretKeyEnv string `yaml:"secretKeyEnv,omitempty" json:"secretKeyEnv,omitempty"`
}

// AzureDeployConfig deploys to an Azure Blob container.
type AzureDeployConfig struct {
	Container           string `yaml:"container,omitempty" json:"container,omitempty"`
	Prefix              string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	ConnectionStringEnv string `yaml:"connectionStringEnv,omitempty" json:"connectionStringEnv,omitempty"`
}

// ListSites returns the site names under the root, sorted.
func (s *Store) ListSites() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sites: %w", err)
	}
	var sites []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// A site without an input dir is not a site yet.
		if info, err := os.Stat(filepath.Join(s.root, e.Name(), "input")); err != nil || !info.IsDir() {
			continue
		}
		sites = append(sites, e.Name())
	}
	sort.Strings(sites)
	return sites, nil
}

// SiteConfigPath returns the config file location for site.
func (s *Store) SiteConfigPath(site string) string {
	return filepath.Join(s.InputDir(site), siteConfigFileName)
}

// ReadSiteConfig loads site.yaml for site.
func (s *Store) ReadSiteConfig(site string) (SiteConfig, error) {
	var cfg SiteConfig
	if err := s.CheckSite(site); err != nil {
		return cfg, err
	}
	raw, err := os.ReadFile(s.SiteConfigPath(site))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Name = site
			return cfg, nil
		}
		return cfg, fmt.Errorf("read site config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse site config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = site
	}
	return cfg, nil
}

// WriteSiteConfig persists site.yaml for site.
func (s *Store) WriteSiteConfig(site string, cfg SiteConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode site config: %w", err)
	}
	if err := os.WriteFile(s.SiteConfigPath(site), raw, 0o644); err != nil {
		return fmt.Errorf("write site config: %w", err)
	}
	return nil
}
