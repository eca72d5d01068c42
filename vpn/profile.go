package vpn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-guard/common"
)

// Protocol identifies the tunnel software a profile drives.
type Protocol string

const (
	ProtocolWireGuard Protocol = "wireguard"
	ProtocolOpenVPN   Protocol = "openvpn"
)

// Profile represents one VPN endpoint configuration.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable name, derived from the config file name.
	Name string `json:"name" yaml:"name"`
	// Protocol selects the tunnel software.
	Protocol Protocol `json:"protocol" yaml:"protocol"`
	// Location is a display hint derived from the config name.
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	// ConfigPath points at the imported copy of the config file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Username is the optional OpenVPN authentication user.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// SavePassword indicates whether the password lives in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
	// AutoConnect marks the profile to connect on startup.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
	// Created is when the profile was imported.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is when the profile was last connected.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// Validate checks that the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidProfile)
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("%w: config path is required", common.ErrInvalidProfile)
	}
	if p.Protocol != ProtocolWireGuard && p.Protocol != ProtocolOpenVPN {
		return fmt.Errorf("%w: unknown protocol %q", common.ErrInvalidProfile, p.Protocol)
	}
	return nil
}

// Endpoints returns the remote hosts named in the profile's config,
// resolved to IP strings. Non-resolvable names are skipped. Sampled at
// firewall apply time so a block always permits tunnel establishment
// to the servers the user has configured.
func (p *Profile) Endpoints() []string {
	data, err := os.ReadFile(p.ConfigPath)
	if err != nil {
		return nil
	}

	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch p.Protocol {
		case ProtocolWireGuard:
			if strings.HasPrefix(line, "Endpoint") {
				if _, value, found := strings.Cut(line, "="); found {
					if host, _, err := net.SplitHostPort(strings.TrimSpace(value)); err == nil {
						hosts = append(hosts, host)
					}
				}
			}
		case ProtocolOpenVPN:
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == "remote" {
				hosts = append(hosts, fields[1])
			}
		}
	}

	return resolveHosts(hosts)
}

// resolveHosts maps hostnames to IPs; literal IPs pass through.
func resolveHosts(hosts []string) []string {
	var ips []string
	for _, host := range hosts {
		if net.ParseIP(host) != nil {
			ips = append(ips, host)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resolved, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		cancel()
		if err != nil {
			common.LogDebug("Could not resolve endpoint %s: %v", host, err)
			continue
		}
		for _, ip := range resolved {
			ips = append(ips, ip.String())
		}
	}
	return ips
}

// ProfileManager manages VPN profiles. It handles importing,
// persisting, and manipulating profiles stored on disk.
type ProfileManager struct {
	profiles    []*Profile
	configDir   string
	profilesDir string
	configFile  string
}

// NewProfileManager creates a ProfileManager rooted in the standard
// config directory and loads existing profiles.
func NewProfileManager() (*ProfileManager, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, common.WrapError(err, "failed to resolve config directory")
	}
	return newProfileManagerAt(configDir)
}

func newProfileManagerAt(configDir string) (*ProfileManager, error) {
	pm := &ProfileManager{
		profiles:    make([]*Profile, 0),
		configDir:   configDir,
		profilesDir: filepath.Join(configDir, common.ProfilesDirName),
		configFile:  filepath.Join(configDir, common.ProfilesFileName),
	}

	if err := os.MkdirAll(pm.profilesDir, 0700); err != nil {
		return nil, common.WrapError(err, "failed to create profiles directory")
	}

	if err := pm.Load(); err != nil {
		return nil, common.WrapError(err, "failed to load profiles")
	}
	return pm, nil
}

// Load loads profiles from the configuration file. A missing file
// means no profiles yet.
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return common.WrapError(err, "failed to read profiles file")
	}

	if err := yaml.Unmarshal(data, &pm.profiles); err != nil {
		return common.WrapError(err, "failed to parse profiles file")
	}
	return nil
}

// Save persists profiles to the configuration file.
func (pm *ProfileManager) Save() error {
	data, err := yaml.Marshal(&pm.profiles)
	if err != nil {
		return common.WrapError(err, "failed to serialize profiles")
	}

	if err := os.WriteFile(pm.configFile, data, 0600); err != nil {
		return common.WrapError(err, "failed to write profiles file")
	}
	return nil
}

// Import validates a tunnel config, copies it into the profile
// directory, and registers a profile for it.
func (pm *ProfileManager) Import(path string) (*Profile, error) {
	path = common.ExpandHome(path)

	proto, err := DetectProtocol(path)
	if err != nil {
		return nil, err
	}
	if err := validateConfigFile(path, proto); err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	// wg-quick derives the interface name from the file name, and the
	// kernel caps interface names at 15 bytes.
	if proto == ProtocolWireGuard && len(name) > 15 {
		return nil, fmt.Errorf("%w: %q is too long for a WireGuard interface name", common.ErrInvalidProfile, name)
	}

	if _, err := pm.GetByName(name); err == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateName, name)
	}

	dest := filepath.Join(pm.profilesDir, base)
	if common.FileExists(dest) {
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateName, base)
	}
	if err := copyFile(path, dest); err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:         common.GenerateID(),
		Name:       name,
		Protocol:   proto,
		Location:   deriveLocation(name),
		ConfigPath: dest,
		Created:    time.Now(),
	}

	pm.profiles = append(pm.profiles, profile)
	if err := pm.Save(); err != nil {
		pm.profiles = pm.profiles[:len(pm.profiles)-1]
		os.Remove(dest)
		return nil, err
	}

	common.LogInfo("Imported profile %s (%s)", profile.Name, profile.Protocol)
	return profile, nil
}

// ImportDir imports every recognizable config file in a directory.
// Returns the profiles imported; files that fail validation are
// skipped with a log line rather than aborting the batch.
func (pm *ProfileManager) ImportDir(dir string) ([]*Profile, error) {
	dir = common.ExpandHome(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, common.WrapError(err, "failed to read directory")
	}

	var imported []*Profile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".conf" && ext != ".ovpn" {
			continue
		}
		profile, err := pm.Import(filepath.Join(dir, entry.Name()))
		if err != nil {
			common.LogWarn("Skipping %s: %v", entry.Name(), err)
			continue
		}
		imported = append(imported, profile)
	}
	return imported, nil
}

// ImportURL downloads a config file and imports it. The download is
// size-capped; the URL path supplies the file name.
func (pm *ProfileManager) ImportURL(rawURL string) (*Profile, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: not a downloadable URL: %s", common.ErrInvalidConfig, rawURL)
	}

	base := filepath.Base(parsed.Path)
	if base == "." || base == "/" {
		return nil, fmt.Errorf("%w: URL has no file name", common.ErrInvalidConfig)
	}

	client := &http.Client{Timeout: common.HTTPTimeout}
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, common.WrapError(err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: server returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, common.MaxProfileDownloadSize+1))
	if err != nil {
		return nil, common.WrapError(err, "download failed")
	}
	if int64(len(data)) > common.MaxProfileDownloadSize {
		return nil, fmt.Errorf("%w: config file exceeds %d bytes", common.ErrInvalidConfig, common.MaxProfileDownloadSize)
	}

	tmpDir, err := os.MkdirTemp("", "vpn-guard-import-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, base)
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return nil, err
	}

	return pm.Import(tmpPath)
}

// Remove removes a profile by ID, deleting its config copy.
func (pm *ProfileManager) Remove(id string) error {
	for i, profile := range pm.profiles {
		if profile.ID == id {
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Could not remove config for %s: %v", profile.Name, err)
			}
			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return pm.Save()
		}
	}
	return common.ErrProfileNotFound
}

// Get retrieves a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	for _, profile := range pm.profiles {
		if profile.ID == id {
			return profile, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// GetByName retrieves a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	for _, profile := range pm.profiles {
		if profile.Name == name {
			return profile, nil
		}
	}
	return nil, common.ErrProfileNotFound
}

// List returns all profiles.
func (pm *ProfileManager) List() []*Profile {
	return pm.profiles
}

// Update updates an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			pm.profiles[i] = profile
			return pm.Save()
		}
	}
	return common.ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	profile, err := pm.Get(id)
	if err != nil {
		return err
	}
	profile.LastUsed = time.Now()
	return pm.Update(profile)
}

// AllEndpoints returns the resolved endpoint IPs of every profile.
// Fed to the firewall so a block never prevents connecting to any
// configured server.
func (pm *ProfileManager) AllEndpoints() []string {
	seen := make(map[string]bool)
	var ips []string
	for _, profile := range pm.profiles {
		for _, ip := range profile.Endpoints() {
			if !seen[ip] {
				seen[ip] = true
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

// DetectProtocol inspects a config file and decides which tunnel
// software it belongs to.
func DetectProtocol(path string) (Protocol, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", common.ErrInvalidConfig, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".conf" && ext != ".ovpn" {
		return "", fmt.Errorf("%w: expected .conf or .ovpn extension", common.ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", common.WrapError(err, "failed to read config file")
	}
	content := string(data)

	if strings.Contains(content, "[Interface]") {
		return ProtocolWireGuard, nil
	}
	if ext == ".ovpn" || strings.Contains(content, "remote ") || strings.Contains(content, "client") {
		return ProtocolOpenVPN, nil
	}
	return "", fmt.Errorf("%w: unrecognized config format", common.ErrInvalidConfig)
}

// validateConfigFile checks the config has the directives its
// protocol requires.
func validateConfigFile(path string, proto Protocol) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.WrapError(err, "failed to read config file")
	}
	content := string(data)

	switch proto {
	case ProtocolWireGuard:
		for _, required := range []string{"[Interface]", "PrivateKey", "[Peer]", "PublicKey"} {
			if !strings.Contains(content, required) {
				return fmt.Errorf("%w: missing %s", common.ErrInvalidConfig, required)
			}
		}
	case ProtocolOpenVPN:
		if !strings.Contains(content, "remote") && !strings.Contains(content, "client") {
			return fmt.Errorf("%w: missing required OpenVPN directives", common.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown protocol %q", common.ErrInvalidConfig, proto)
	}
	return nil
}

// deriveLocation guesses a display location from a config name like
// "us-newyork-001" or "de_frankfurt". It is a display hint only, not
// ground truth; anything unrecognized reads "Unknown".
func deriveLocation(name string) string {
	lower := strings.ToLower(name)

	// Specific city tokens first, in order, so a name carrying several
	// always resolves the same way.
	cities := []struct{ token, location string }{
		{"frankfurt", "Frankfurt, DE"},
		{"amsterdam", "Amsterdam, NL"},
		{"losangeles", "Los Angeles, US"},
		{"los-angeles", "Los Angeles, US"},
		{"newyork", "New York, US"},
		{"new-york", "New York, US"},
		{"tokyo", "Tokyo, JP"},
		{"london", "London, GB"},
		{"paris", "Paris, FR"},
		{"singapore", "Singapore, SG"},
		{"sydney", "Sydney, AU"},
		{"toronto", "Toronto, CA"},
		{"zurich", "Zurich, CH"},
	}
	for _, c := range cities {
		if strings.Contains(lower, c.token) {
			return c.location
		}
	}

	// Country codes only count when they stand alone at the start;
	// "business" must not read as US, nor "desktop" as DE.
	countries := map[string]string{
		"nl": "Netherlands",
		"us": "United States",
		"uk": "United Kingdom",
		"gb": "United Kingdom",
		"de": "Germany",
		"fr": "France",
		"jp": "Japan",
		"ca": "Canada",
		"au": "Australia",
		"sg": "Singapore",
		"ch": "Switzerland",
		"se": "Sweden",
		"es": "Spain",
		"it": "Italy",
	}
	if len(lower) >= 2 {
		rest := lower[2:]
		separated := rest == "" || rest[0] == '-' || rest[0] == '_' ||
			(rest[0] >= '0' && rest[0] <= '9')
		if separated {
			if country, ok := countries[lower[:2]]; ok {
				return country
			}
		}
	}

	return "Unknown"
}

// copyFile copies a file from src to dst with owner-only permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return common.WrapError(err, "failed to read source file")
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return common.WrapError(err, "failed to write destination file")
	}
	return nil
}
