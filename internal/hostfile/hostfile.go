// Package hostfile imports and exports host profiles as a YAML file, so
// saved targets can be bulk-edited or carried between machines.
package hostfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shellback/shellback/internal/database"
	"github.com/shellback/shellback/internal/secrets"
)

// Host is one entry of a hosts file. Passphrase, when present, is the
// cleartext key passphrase; it is encrypted on import and never written
// back on export.
type Host struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port,omitempty"`
	User        string `yaml:"user,omitempty"`
	KeyPath     string `yaml:"key_path,omitempty"`
	Passphrase  string `yaml:"passphrase,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	Scrollback  int    `yaml:"scrollback,omitempty"`
}

// File is the top-level document of a hosts file.
type File struct {
	Hosts []Host `yaml:"hosts"`
}

// Import reads the YAML file at path and upserts every entry as a host
// profile, keyed by name. Returns the number of profiles written.
func Import(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read hosts file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse hosts file: %w", err)
	}

	written := 0
	for i, h := range f.Hosts {
		if h.Name == "" || h.Host == "" {
			return written, fmt.Errorf("hosts[%d]: name and host are required", i)
		}
		p := database.HostProfile{
			Name:        h.Name,
			Host:        h.Host,
			Port:        h.Port,
			User:        h.User,
			KeyPath:     h.KeyPath,
			MaxAttempts: h.MaxAttempts,
			Scrollback:  h.Scrollback,
		}
		if p.Port == 0 {
			p.Port = 22
		}
		if p.User == "" {
			p.User = "root"
		}
		if h.Passphrase != "" {
			enc, err := secrets.Encrypt(h.Passphrase)
			if err != nil {
				return written, fmt.Errorf("hosts[%d]: %w", i, err)
			}
			p.Passphrase = enc
		}
		if err := database.SaveProfile(&p); err != nil {
			return written, fmt.Errorf("save profile %q: %w", h.Name, err)
		}
		written++
	}
	return written, nil
}

// Export writes all stored profiles to the YAML file at path. Passphrases
// are omitted: the export must stay safe to check into dotfiles.
func Export(path string) (int, error) {
	profiles, err := database.ListProfiles()
	if err != nil {
		return 0, fmt.Errorf("list profiles: %w", err)
	}

	f := File{Hosts: make([]Host, 0, len(profiles))}
	for _, p := range profiles {
		f.Hosts = append(f.Hosts, Host{
			Name:        p.Name,
			Host:        p.Host,
			Port:        p.Port,
			User:        p.User,
			KeyPath:     p.KeyPath,
			MaxAttempts: p.MaxAttempts,
			Scrollback:  p.Scrollback,
		})
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return 0, fmt.Errorf("marshal hosts file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return 0, fmt.Errorf("write hosts file: %w", err)
	}
	return len(f.Hosts), nil
}
