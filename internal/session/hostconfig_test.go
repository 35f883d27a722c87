package session

import (
	"path/filepath"
	"strings"
	"testing"
)

const testSSHConfig = `
Host kerbin
  HostName kerbin.cluster.example.org
  User alice
  Port 2222
  IdentityFile ~/.ssh/cluster_ed25519

Host *
  User bob
`

func TestResolveHost(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := DecodeSSHConfig(strings.NewReader(testSSHConfig))
	if err != nil {
		t.Fatalf("DecodeSSHConfig failed: %v", err)
	}

	tests := []struct {
		name     string
		alias    string
		user     string
		identity string
		hostName string
		port     int
		wantUser string
		wantKey  string
	}{
		{
			name:     "alias from config",
			alias:    "kerbin",
			hostName: "kerbin.cluster.example.org",
			port:     2222,
			wantUser: "alice",
			wantKey:  filepath.Join(home, ".ssh", "cluster_ed25519"),
		},
		{
			name:     "wildcard only",
			alias:    "abel.example.org",
			hostName: "abel.example.org",
			port:     22,
			wantUser: "bob",
			wantKey:  filepath.Join(home, ".ssh", "id_ed25519"),
		},
		{
			name:     "explicit overrides",
			alias:    "kerbin",
			user:     "carol",
			identity: "~/keys/hpc",
			hostName: "kerbin.cluster.example.org",
			port:     2222,
			wantUser: "carol",
			wantKey:  filepath.Join(home, "keys", "hpc"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ResolveHost(cfg, tt.alias, tt.user, tt.identity)
			if err != nil {
				t.Fatalf("ResolveHost failed: %v", err)
			}
			if info.HostName != tt.hostName || info.Port != tt.port {
				t.Errorf("Expected %s:%d, got %s:%d", tt.hostName, tt.port, info.HostName, info.Port)
			}
			if info.User != tt.wantUser {
				t.Errorf("Expected user %s, got %s", tt.wantUser, info.User)
			}
			if len(info.IdentityFiles) == 0 || info.IdentityFiles[0] != tt.wantKey {
				t.Errorf("Expected first identity %s, got %v", tt.wantKey, info.IdentityFiles)
			}
		})
	}
}

func TestResolveHostWithoutConfig(t *testing.T) {
	info, err := ResolveHost(nil, "kerbin", "alice", "")
	if err != nil {
		t.Fatalf("ResolveHost failed: %v", err)
	}
	if info.Addr() != "kerbin:22" {
		t.Errorf("Expected kerbin:22, got %s", info.Addr())
	}
	if info.User != "alice" {
		t.Errorf("Expected user alice, got %s", info.User)
	}
}

func TestResolveHostInvalidPort(t *testing.T) {
	cfg, err := DecodeSSHConfig(strings.NewReader("Host badport\n  Port notaport\n"))
	if err != nil {
		// Rejected while parsing
		return
	}

	if _, err := ResolveHost(cfg, "badport", "alice", ""); err == nil {
		t.Error("Expected error for non-numeric Port")
	}
}
