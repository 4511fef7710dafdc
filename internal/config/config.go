package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"saltboot/internal/provider"

	"gopkg.in/yaml.v2"
)

// Config contains application configuration
type Config struct {
	// SoftLayer API credentials
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// Path to the SoftLayer credentials file; also what --add-sl-cli
	// copies onto the instance.
	CredentialsPath string `yaml:"credentials_path"`

	// Virtual guest template defaults. The install sequence assumes a
	// CentOS image.
	CPUs          int    `yaml:"cpus"`
	MemoryMB      int    `yaml:"memory_mb"`
	HourlyBilling bool   `yaml:"hourly_billing"`
	LocalDisk     bool   `yaml:"local_disk"`
	OSCode        string `yaml:"os_code"`
	Datacenter    string `yaml:"datacenter"`

	// Saltmaster container image run on the instance
	SaltmasterImage string `yaml:"saltmaster_image"`
}

// CreateRequest merges the template baseline with the per-run hostname,
// domain and key reference.
func (c *Config) CreateRequest(hostname, domain string, sshKeyID int) provider.CreateRequest {
	return provider.CreateRequest{
		Hostname:      hostname,
		Domain:        domain,
		CPUs:          c.CPUs,
		MemoryMB:      c.MemoryMB,
		HourlyBilling: c.HourlyBilling,
		LocalDisk:     c.LocalDisk,
		OSCode:        c.OSCode,
		Datacenter:    c.Datacenter,
		SSHKeyID:      sshKeyID,
	}
}

// Load loads configuration from the YAML file, the SoftLayer credentials
// file and the environment, in that order of increasing precedence.
func Load() (*Config, error) {
	config := &Config{
		CPUs:            1,
		MemoryMB:        1024,
		HourlyBilling:   true,
		LocalDisk:       false,
		OSCode:          "CENTOS_LATEST",
		Datacenter:      "dal09",
		SaltmasterImage: "saltstack/salt-master",
	}

	// Try to load from YAML file first
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "saltboot.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.Username = os.ExpandEnv(config.Username)
	config.APIKey = os.ExpandEnv(config.APIKey)
	config.Endpoint = os.ExpandEnv(config.Endpoint)
	config.CredentialsPath = os.ExpandEnv(config.CredentialsPath)

	if config.CredentialsPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			config.CredentialsPath = filepath.Join(home, ".softlayer")
		}
	}

	// Fall back to the standard credentials file for anything still unset
	if config.Username == "" || config.APIKey == "" {
		if creds, err := readCredentialsFile(config.CredentialsPath); err == nil {
			if config.Username == "" {
				config.Username = creds.username
			}
			if config.APIKey == "" {
				config.APIKey = creds.apiKey
			}
			if config.Endpoint == "" {
				config.Endpoint = creds.endpoint
			}
		}
	}

	// Override with environment variables if set
	if username := os.Getenv("SL_USERNAME"); username != "" {
		config.Username = username
	}

	if apiKey := os.Getenv("SL_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}

	// Validate required parameters
	if config.Username == "" {
		return nil, fmt.Errorf("SoftLayer username is required (set username in config file, %s, or SL_USERNAME environment variable)", config.CredentialsPath)
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("SoftLayer API key is required (set api_key in config file, %s, or SL_API_KEY environment variable)", config.CredentialsPath)
	}

	return config, nil
}

type credentials struct {
	username string
	apiKey   string
	endpoint string
}

// readCredentialsFile parses the ~/.softlayer credentials file. The format
// is a minimal INI: a [softlayer] section with username, api_key and
// optional endpoint_url keys.
func readCredentialsFile(path string) (*credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	creds := &credentials{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "username":
			creds.username = value
		case "api_key":
			creds.apiKey = value
		case "endpoint_url":
			creds.endpoint = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return creds, nil
}
