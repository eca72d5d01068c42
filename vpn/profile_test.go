package vpn

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yllada/vpn-guard/common"
)

const testOVPNConfig = `client
dev tun
proto udp
remote 198.51.100.3 1194
auth-user-pass
`

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testManagerDir(t *testing.T) (*ProfileManager, string) {
	t.Helper()
	dir := t.TempDir()
	pm, err := newProfileManagerAt(dir)
	if err != nil {
		t.Fatalf("newProfileManagerAt() error = %v", err)
	}
	return pm, dir
}

func TestDetectProtocol(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    Protocol
		wantErr bool
	}{
		{"wireguard conf", "wg-home.conf", testWGConfig, ProtocolWireGuard, false},
		{"openvpn ovpn", "office.ovpn", testOVPNConfig, ProtocolOpenVPN, false},
		{"openvpn conf", "office.conf", testOVPNConfig, ProtocolOpenVPN, false},
		{"wrong extension", "notes.txt", testWGConfig, "", true},
		{"unrecognized conf", "mystery.conf", "hello world\n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, dir, tt.file, tt.content)
			got, err := DetectProtocol(path)
			if tt.wantErr {
				if !errors.Is(err, common.ErrInvalidConfig) {
					t.Errorf("DetectProtocol() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectProtocol() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectProtocol() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := DetectProtocol(filepath.Join(dir, "missing.conf")); err == nil {
		t.Error("DetectProtocol() on a missing file succeeded")
	}
	if _, err := DetectProtocol(dir); err == nil {
		t.Error("DetectProtocol() on a directory succeeded")
	}
}

func TestValidateConfigFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		proto   Protocol
		content string
		wantErr bool
	}{
		{"complete wireguard", ProtocolWireGuard, testWGConfig, false},
		{"wireguard no private key", ProtocolWireGuard, "[Interface]\nAddress = 10.0.0.2/32\n\n[Peer]\nPublicKey = x\n", true},
		{"wireguard no peer", ProtocolWireGuard, "[Interface]\nPrivateKey = x\n", true},
		{"complete openvpn", ProtocolOpenVPN, testOVPNConfig, false},
		{"openvpn no directives", ProtocolOpenVPN, "dev tun\nproto udp\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, dir, strings.ReplaceAll(tt.name, " ", "-")+".conf", tt.content)
			err := validateConfigFile(path, tt.proto)
			if tt.wantErr && !errors.Is(err, common.ErrInvalidConfig) {
				t.Errorf("validateConfigFile() error = %v, want ErrInvalidConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validateConfigFile() error = %v", err)
			}
		})
	}
}

func TestDeriveLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"us-west-4", "United States"},
		{"us2", "United States"},
		{"de_frankfurt", "Frankfurt, DE"},
		{"frankfurt-dc", "Frankfurt, DE"},
		{"new-york-001", "New York, US"},
		{"uk_london", "London, GB"},
		{"se", "Sweden"},
		// "us"/"de"/"ca" buried in a word are not country codes.
		{"business", "Unknown"},
		{"desktop", "Unknown"},
		{"cache", "Unknown"},
		{"home", "Unknown"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		if got := deriveLocation(tt.in); got != tt.want {
			t.Errorf("deriveLocation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestImport(t *testing.T) {
	pm, dir := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig)

	profile, err := pm.Import(src)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if profile.ID == "" {
		t.Error("imported profile has no ID")
	}
	if profile.Name != "us-west" {
		t.Errorf("Name = %q, want us-west", profile.Name)
	}
	if profile.Protocol != ProtocolWireGuard {
		t.Errorf("Protocol = %v, want wireguard", profile.Protocol)
	}
	if profile.Location != "United States" {
		t.Errorf("Location = %q, want United States", profile.Location)
	}
	if profile.Created.IsZero() {
		t.Error("Created not set")
	}

	// The config is copied into the app's own directory, owner-only.
	if !strings.HasPrefix(profile.ConfigPath, filepath.Join(dir, common.ProfilesDirName)) {
		t.Errorf("ConfigPath = %q, not under the profiles directory", profile.ConfigPath)
	}
	info, err := os.Stat(profile.ConfigPath)
	if err != nil {
		t.Fatalf("copied config missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("copied config mode = %o, want 0600", perm)
	}

	// A fresh manager over the same directory sees the profile.
	pm2, err := newProfileManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := pm2.Get(profile.ID)
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if loaded.Name != profile.Name || loaded.Protocol != profile.Protocol {
		t.Errorf("reloaded profile = %+v, want %+v", loaded, profile)
	}
}

func TestImportDuplicateName(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig)

	if _, err := pm.Import(src); err != nil {
		t.Fatalf("first Import() error = %v", err)
	}
	if _, err := pm.Import(src); !errors.Is(err, common.ErrDuplicateName) {
		t.Errorf("second Import() error = %v, want ErrDuplicateName", err)
	}
	if got := len(pm.List()); got != 1 {
		t.Errorf("profile count = %d, want 1", got)
	}
}

func TestImportLongWireGuardName(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "this-name-is-far-too-long.conf", testWGConfig)

	if _, err := pm.Import(src); !errors.Is(err, common.ErrInvalidProfile) {
		t.Errorf("Import() error = %v, want ErrInvalidProfile for a long interface name", err)
	}
}

func TestImportInvalidConfig(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "broken.conf", "[Interface]\nAddress = 10.0.0.2/32\n")

	if _, err := pm.Import(src); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Import() error = %v, want ErrInvalidConfig", err)
	}
	if got := len(pm.List()); got != 0 {
		t.Errorf("profile count = %d, want 0 after failed import", got)
	}
}

func TestImportDir(t *testing.T) {
	pm, _ := testManagerDir(t)

	srcDir := t.TempDir()
	writeTestFile(t, srcDir, "us-west.conf", testWGConfig)
	writeTestFile(t, srcDir, "office.ovpn", testOVPNConfig)
	writeTestFile(t, srcDir, "broken.conf", "hello world\n")
	writeTestFile(t, srcDir, "readme.txt", "not a config")
	if err := os.Mkdir(filepath.Join(srcDir, "sub"), 0700); err != nil {
		t.Fatal(err)
	}

	imported, err := pm.ImportDir(srcDir)
	if err != nil {
		t.Fatalf("ImportDir() error = %v", err)
	}
	if len(imported) != 2 {
		t.Errorf("ImportDir() imported %d profiles, want 2", len(imported))
	}
	if got := len(pm.List()); got != 2 {
		t.Errorf("profile count = %d, want 2", got)
	}
}

func TestImportURL(t *testing.T) {
	pm, _ := testManagerDir(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/configs/eu-north.conf" {
			w.Write([]byte(testWGConfig))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	profile, err := pm.ImportURL(srv.URL + "/configs/eu-north.conf")
	if err != nil {
		t.Fatalf("ImportURL() error = %v", err)
	}
	if profile.Name != "eu-north" || profile.Protocol != ProtocolWireGuard {
		t.Errorf("profile = %+v, want eu-north/wireguard", profile)
	}

	if _, err := pm.ImportURL(srv.URL + "/missing.conf"); err == nil {
		t.Error("ImportURL() on a 404 succeeded")
	}
}

func TestImportURLRejectsOversized(t *testing.T) {
	pm, _ := testManagerDir(t)

	big := strings.Repeat("x", common.MaxProfileDownloadSize+16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	if _, err := pm.ImportURL(srv.URL + "/huge.conf"); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("ImportURL() error = %v, want ErrInvalidConfig for oversized download", err)
	}
}

func TestImportURLRejectsBadScheme(t *testing.T) {
	pm, _ := testManagerDir(t)
	if _, err := pm.ImportURL("ftp://example.com/a.conf"); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("ImportURL() error = %v, want ErrInvalidConfig", err)
	}
}

func TestRemove(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig)
	profile, err := pm.Import(src)
	if err != nil {
		t.Fatal(err)
	}

	if err := pm.Remove(profile.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if common.FileExists(profile.ConfigPath) {
		t.Error("Remove() left the config copy behind")
	}
	if _, err := pm.Get(profile.ID); !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("Get() after Remove error = %v, want ErrProfileNotFound", err)
	}
	if err := pm.Remove("no-such-id"); !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("Remove() unknown ID error = %v, want ErrProfileNotFound", err)
	}
}

func TestGetByName(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig)
	if _, err := pm.Import(src); err != nil {
		t.Fatal(err)
	}

	profile, err := pm.GetByName("us-west")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if profile.Name != "us-west" {
		t.Errorf("Name = %q, want us-west", profile.Name)
	}
	if _, err := pm.GetByName("nope"); !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("GetByName() unknown error = %v, want ErrProfileNotFound", err)
	}
}

func TestUpdatePersists(t *testing.T) {
	pm, dir := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "office.ovpn", testOVPNConfig)
	profile, err := pm.Import(src)
	if err != nil {
		t.Fatal(err)
	}

	profile.Username = "alice"
	profile.SavePassword = true
	if err := pm.Update(profile); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	pm2, err := newProfileManagerAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := pm2.Get(profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Username != "alice" || !loaded.SavePassword {
		t.Errorf("reloaded profile = %+v, want updated credentials settings", loaded)
	}
}

func TestMarkUsed(t *testing.T) {
	pm, _ := testManagerDir(t)
	src := writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig)
	profile, err := pm.Import(src)
	if err != nil {
		t.Fatal(err)
	}
	if !profile.LastUsed.IsZero() {
		t.Fatal("fresh profile already has LastUsed")
	}

	if err := pm.MarkUsed(profile.ID); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	got, _ := pm.Get(profile.ID)
	if got.LastUsed.IsZero() {
		t.Error("MarkUsed() did not set LastUsed")
	}
}

func TestProfileEndpoints(t *testing.T) {
	pm, _ := testManagerDir(t)

	wg, err := pm.Import(writeTestFile(t, t.TempDir(), "us-west.conf", testWGConfig))
	if err != nil {
		t.Fatal(err)
	}
	if got := wg.Endpoints(); len(got) != 1 || got[0] != "203.0.113.7" {
		t.Errorf("WireGuard Endpoints() = %v, want [203.0.113.7]", got)
	}

	ovpn, err := pm.Import(writeTestFile(t, t.TempDir(), "office.ovpn", testOVPNConfig))
	if err != nil {
		t.Fatal(err)
	}
	if got := ovpn.Endpoints(); len(got) != 1 || got[0] != "198.51.100.3" {
		t.Errorf("OpenVPN Endpoints() = %v, want [198.51.100.3]", got)
	}

	all := pm.AllEndpoints()
	if len(all) != 2 {
		t.Errorf("AllEndpoints() = %v, want both profile endpoints", all)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{Name: "a", ConfigPath: "/x", Protocol: ProtocolWireGuard}, false},
		{"no name", Profile{ConfigPath: "/x", Protocol: ProtocolWireGuard}, true},
		{"no config", Profile{Name: "a", Protocol: ProtocolOpenVPN}, true},
		{"bad protocol", Profile{Name: "a", ConfigPath: "/x", Protocol: "ipsec"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr && !errors.Is(err, common.ErrInvalidProfile) {
				t.Errorf("Validate() error = %v, want ErrInvalidProfile", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}
