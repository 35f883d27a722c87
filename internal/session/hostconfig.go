package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/dan-v/launchable/pkg/shared"
)

// HostInfo is a host alias resolved through ssh_config
type HostInfo struct {
	Alias         string
	HostName      string
	Port          int
	User          string
	IdentityFiles []string
}

// Addr is the host:port to dial
func (h HostInfo) Addr() string {
	return net.JoinHostPort(h.HostName, strconv.Itoa(h.Port))
}

// LoadSSHConfig reads ~/.ssh/config. A missing file yields a nil config.
func LoadSSHConfig() (*ssh_config.Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}

	f, err := os.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ssh config: %w", err)
	}
	defer f.Close()

	return DecodeSSHConfig(f)
}

// DecodeSSHConfig parses ssh_config text
func DecodeSSHConfig(r io.Reader) (*ssh_config.Config, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh config: %w", err)
	}
	return cfg, nil
}

// ResolveHost applies the HostName, Port, User and IdentityFile entries for
// alias. Explicit overrides win over the config file; cfg may be nil.
func ResolveHost(cfg *ssh_config.Config, alias, userOverride, identityOverride string) (HostInfo, error) {
	info := HostInfo{
		Alias:    alias,
		HostName: alias,
		Port:     shared.DefaultSSHPort,
	}

	if cfg != nil {
		if v, _ := cfg.Get(alias, "HostName"); v != "" {
			info.HostName = strings.ReplaceAll(v, "%h", alias)
		}
		if v, _ := cfg.Get(alias, "Port"); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil || port < 1 || port > 65535 {
				return info, fmt.Errorf("invalid Port %q for host %s in ssh config", v, alias)
			}
			info.Port = port
		}
		if v, _ := cfg.Get(alias, "User"); v != "" {
			info.User = v
		}
		if files, _ := cfg.GetAll(alias, "IdentityFile"); len(files) > 0 {
			for _, file := range files {
				info.IdentityFiles = append(info.IdentityFiles, expandHome(file))
			}
		}
	}

	if userOverride != "" {
		info.User = userOverride
	}
	if info.User == "" {
		if u, err := user.Current(); err == nil {
			info.User = u.Username
		}
	}
	if info.User == "" {
		return info, errors.New("no remote user: set remote.user or User in ~/.ssh/config")
	}

	if identityOverride != "" {
		info.IdentityFiles = []string{expandHome(identityOverride)}
	} else if len(info.IdentityFiles) == 0 {
		info.IdentityFiles = defaultIdentityFiles()
	}

	return info, nil
}

func defaultIdentityFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var files []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		files = append(files, filepath.Join(home, ".ssh", name))
	}
	return files
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
