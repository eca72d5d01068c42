package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/config"
	"github.com/yllada/vpn-guard/vpn"
)

const testWGConfig = `[Interface]
PrivateKey = cGxhY2Vob2xkZXItcHJpdmF0ZS1rZXk=
Address = 10.0.0.2/32
DNS = 10.0.0.1

[Peer]
PublicKey = cGxhY2Vob2xkZXItcHVibGljLWtleQ==
AllowedIPs = 0.0.0.0/0
Endpoint = 203.0.113.7:51820
`

const testOVPNConfig = `client
dev tun
proto udp
remote 198.51.100.3 1194
auth-user-pass
`

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// what it printed.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	runErr := fn()
	w.Close()
	os.Stdout = old

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(out), runErr
}

func TestListProfilesEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c := New(config.DefaultConfig())

	out, err := captureStdout(t, c.ListProfiles)
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	if !strings.Contains(out, "No profiles found") {
		t.Errorf("output = %q, want the import hint", out)
	}
}

func TestListProfiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	pm, err := vpn.NewProfileManager()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Import(writeConfigFile(t, "us-west.conf", testWGConfig)); err != nil {
		t.Fatal(err)
	}

	c := New(config.DefaultConfig())
	out, err := captureStdout(t, c.ListProfiles)
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	for _, want := range []string{"NAME", "us-west", "wireguard", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusNotConnected(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c := New(config.DefaultConfig())

	out, err := captureStdout(t, c.Status)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !strings.Contains(out, "Not connected.") {
		t.Errorf("output = %q, want Not connected", out)
	}
	if !strings.Contains(out, "Kill switch: Off (Disabled)") {
		t.Errorf("output = %q, want the default kill-switch line", out)
	}
}

func TestDisconnectNoActiveTunnel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c := New(config.DefaultConfig())

	out, err := captureStdout(t, func() error { return c.Disconnect(context.Background()) })
	if os.Geteuid() != 0 {
		if err == nil {
			t.Fatal("Disconnect() without root succeeded")
		}
		return
	}
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !strings.Contains(out, "No active tunnel.") {
		t.Errorf("output = %q, want no-active-tunnel notice", out)
	}
}

func TestUpdateCredentialsNeedsTerminal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	pm, err := vpn.NewProfileManager()
	if err != nil {
		t.Fatal(err)
	}
	profile, err := pm.Import(writeConfigFile(t, "office.ovpn", testOVPNConfig))
	if err != nil {
		t.Fatal(err)
	}

	// go test runs with stdin on /dev/null, so the prompt must refuse.
	c := New(config.DefaultConfig())
	if err := c.UpdateCredentials(profile.Name); err == nil {
		t.Error("UpdateCredentials() without a terminal succeeded")
	}
}

func TestRemoveProfile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	pm, err := vpn.NewProfileManager()
	if err != nil {
		t.Fatal(err)
	}
	profile, err := pm.Import(writeConfigFile(t, "us-west.conf", testWGConfig))
	if err != nil {
		t.Fatal(err)
	}

	c := New(config.DefaultConfig())
	out, err := captureStdout(t, func() error { return c.RemoveProfile("us-west") })
	if err != nil {
		t.Fatalf("RemoveProfile() error = %v", err)
	}
	if !strings.Contains(out, "Removed us-west") {
		t.Errorf("output = %q, want removal confirmation", out)
	}
	if common.FileExists(profile.ConfigPath) {
		t.Error("stored config copy still present after removal")
	}

	// A fresh manager no longer sees it.
	pm2, err := vpn.NewProfileManager()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(pm2.List()); got != 0 {
		t.Errorf("profile count after removal = %d, want 0", got)
	}

	if err := c.RemoveProfile("us-west"); err == nil {
		t.Error("RemoveProfile() of a missing profile succeeded")
	}
}

func TestFindProfile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	pm, err := vpn.NewProfileManager()
	if err != nil {
		t.Fatal(err)
	}
	wg, err := pm.Import(writeConfigFile(t, "us-west.conf", testWGConfig))
	if err != nil {
		t.Fatal(err)
	}
	ovpn, err := pm.Import(writeConfigFile(t, "office.ovpn", testOVPNConfig))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		query  string
		wantID string
	}{
		{"exact name", "us-west", wg.ID},
		{"case insensitive", "US-West", wg.ID},
		{"padded", "  us-west  ", wg.ID},
		{"full id", ovpn.ID, ovpn.ID},
		{"id prefix", wg.ID[:8], wg.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findProfile(pm, tt.query)
			if got == nil || got.ID != tt.wantID {
				t.Errorf("findProfile(%q) = %v, want profile %s", tt.query, got, tt.wantID)
			}
		})
	}

	if got := findProfile(pm, "nope"); got != nil {
		t.Errorf("findProfile(nope) = %v, want nil", got)
	}
}

func TestRequireRoot(t *testing.T) {
	err := requireRoot("connect")
	if os.Geteuid() == 0 {
		if err != nil {
			t.Errorf("requireRoot() as root error = %v", err)
		}
		return
	}
	if err == nil || !strings.Contains(err.Error(), "requires root") {
		t.Errorf("requireRoot() = %v, want a root error", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 14*time.Minute + 9*time.Second, "2h 14m 9s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDoctorTools(t *testing.T) {
	tools := doctorTools()
	for _, want := range []string{"wg-quick", "wg", "openvpn"} {
		if !common.StringInSlice(want, tools) {
			t.Errorf("doctorTools() = %v, missing %s", tools, want)
		}
	}
	if len(tools) <= 3 {
		t.Errorf("doctorTools() = %v, want a firewall tool as well", tools)
	}
}
