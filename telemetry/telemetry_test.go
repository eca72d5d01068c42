package telemetry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const linuxPingOutput = `PING 1.1.1.1 (1.1.1.1) 56(84) bytes of data.
64 bytes from 1.1.1.1: icmp_seq=1 ttl=58 time=12.3 ms
64 bytes from 1.1.1.1: icmp_seq=2 ttl=58 time=12.1 ms

--- 1.1.1.1 ping statistics ---
10 packets transmitted, 10 received, 0% packet loss, time 1813ms
rtt min/avg/max/mdev = 11.914/12.271/12.806/0.280 ms
`

const darwinPingOutput = `PING 8.8.8.8 (8.8.8.8): 56 data bytes
64 bytes from 8.8.8.8: icmp_seq=0 ttl=117 time=23.4 ms

--- 8.8.8.8 ping statistics ---
10 packets transmitted, 9 packets received, 10.0% packet loss
round-trip min/avg/max/stddev = 23.420/25.113/30.522/2.115 ms
`

const lossOnlyPingOutput = `PING 192.0.2.1 (192.0.2.1) 56(84) bytes of data.

--- 192.0.2.1 ping statistics ---
10 packets transmitted, 0 received, 100% packet loss, time 9211ms
`

func TestParsePingOutput(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantOK     bool
		wantAvg    int
		wantLoss   float64
		wantJitter int
	}{
		{"linux", linuxPingOutput, true, 12, 0, 0},
		{"darwin", darwinPingOutput, true, 25, 10.0, 2},
		{"all lost", lossOnlyPingOutput, false, 0, 100, 0},
		{"empty", "", false, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, ok := parsePingOutput(tt.output)
			if ok != tt.wantOK {
				t.Fatalf("parsePingOutput() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if sample.avgMs != tt.wantAvg {
				t.Errorf("avgMs = %d, want %d", sample.avgMs, tt.wantAvg)
			}
			if sample.loss != tt.wantLoss {
				t.Errorf("loss = %v, want %v", sample.loss, tt.wantLoss)
			}
			if sample.jitterMs != tt.wantJitter {
				t.Errorf("jitterMs = %d, want %d", sample.jitterMs, tt.wantJitter)
			}
		})
	}
}

func TestReadDNSServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	content := `# Generated by NetworkManager
; another comment style
search lan
nameserver 10.0.0.1
nameserver 9.9.9.9
options edns0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(time.Hour)
	c.resolvConf = path
	servers := c.readDNSServers()
	if len(servers) != 2 || servers[0] != "10.0.0.1" || servers[1] != "9.9.9.9" {
		t.Errorf("readDNSServers() = %v, want [10.0.0.1 9.9.9.9]", servers)
	}

	c.resolvConf = filepath.Join(t.TempDir(), "missing")
	if servers := c.readDNSServers(); servers != nil {
		t.Errorf("readDNSServers() on missing file = %v, want nil", servers)
	}
}

func TestProbeAddressPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip": "203.0.113.9", "org": "AS64500 ExampleNet", "city": "Oslo", "country": "NO"}`)
	}))
	defer srv.Close()

	c := New(time.Hour)
	c.ipInfoURL = srv.URL
	c.probeAddress()

	report := c.Latest()
	if report.PublicIP != "203.0.113.9" {
		t.Errorf("PublicIP = %q, want 203.0.113.9", report.PublicIP)
	}
	if report.ISP != "AS64500 ExampleNet" {
		t.Errorf("ISP = %q, want AS64500 ExampleNet", report.ISP)
	}
	if report.Location != "Oslo, NO" {
		t.Errorf("Location = %q, want Oslo, NO", report.Location)
	}
}

func TestProbeAddressFallback(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "198.51.100.77")
	}))
	defer plain.Close()

	c := New(time.Hour)
	c.ipInfoURL = broken.URL
	c.ipFallbacks = []string{plain.URL}
	c.probeAddress()

	report := c.Latest()
	if report.PublicIP != "198.51.100.77" {
		t.Errorf("PublicIP = %q, want fallback result", report.PublicIP)
	}
	if report.ISP != "" || report.Location != "" {
		t.Errorf("ISP/Location = %q/%q, want empty from a plain-IP service", report.ISP, report.Location)
	}
}

func TestProbeAddressAllFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()

	c := New(time.Hour)
	c.ipInfoURL = broken.URL
	c.ipFallbacks = []string{broken.URL}
	c.probeAddress()

	report := c.Latest()
	if report.LastError == "" {
		t.Error("LastError empty after every service failed")
	}
	if report.PublicIP != "" {
		t.Errorf("PublicIP = %q, want empty", report.PublicIP)
	}
}

func TestProbeLatency(t *testing.T) {
	orig := runPingCommand
	defer func() { runPingCommand = orig }()
	runPingCommand = func(args ...string) ([]byte, error) {
		return []byte(linuxPingOutput), nil
	}

	c := New(time.Hour)
	c.pingTargets = []string{"1.1.1.1"}
	c.probeLatency()

	report := c.Latest()
	if report.LatencyMs != 12 || report.PacketLoss != 0 {
		t.Errorf("latency/loss = %d/%v, want 12/0", report.LatencyMs, report.PacketLoss)
	}
}

func TestProbeLatencyNothingAnswers(t *testing.T) {
	orig := runPingCommand
	defer func() { runPingCommand = orig }()
	runPingCommand = func(args ...string) ([]byte, error) {
		return []byte(lossOnlyPingOutput), fmt.Errorf("exit status 1")
	}

	c := New(time.Hour)
	c.pingTargets = []string{"192.0.2.1"}
	c.probeLatency()

	report := c.Latest()
	if report.PacketLoss != 100 {
		t.Errorf("PacketLoss = %v, want 100 when nothing answers", report.PacketLoss)
	}
	if report.LatencyMs != 0 {
		t.Errorf("LatencyMs = %d, want 0", report.LatencyMs)
	}
}

func TestProbeSecurityLeak(t *testing.T) {
	v6 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "2001:db8::1")
	}))
	defer v6.Close()

	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("nameserver 10.0.0.1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(time.Hour)
	c.resolvConf = path
	c.ipv6URLs = []string{v6.URL}
	c.probeSecurity()

	report := c.Latest()
	if !report.IPv6Checked || !report.IPv6Leak {
		t.Errorf("IPv6 = checked %v leak %v, want checked leak", report.IPv6Checked, report.IPv6Leak)
	}
	if len(report.DNS) != 1 || report.DNS[0] != "10.0.0.1" {
		t.Errorf("DNS = %v, want [10.0.0.1]", report.DNS)
	}
}

func TestProbeSecurityNoLeak(t *testing.T) {
	// A service that answers but not with an address means no v6 egress.
	v6 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html>blocked</html>")
	}))
	v6.Close() // unreachable

	c := New(time.Hour)
	c.resolvConf = filepath.Join(t.TempDir(), "missing")
	c.ipv6URLs = []string{v6.URL}
	c.probeSecurity()

	report := c.Latest()
	if !report.IPv6Checked || report.IPv6Leak {
		t.Errorf("IPv6 = checked %v leak %v, want checked no-leak", report.IPv6Checked, report.IPv6Leak)
	}
}

func TestCollectorLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip": "203.0.113.9", "org": "AS64500", "city": "Oslo", "country": "NO"}`)
	}))
	defer srv.Close()

	orig := runPingCommand
	defer func() { runPingCommand = orig }()
	runPingCommand = func(args ...string) ([]byte, error) {
		return []byte(linuxPingOutput), nil
	}

	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("nameserver 10.0.0.1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(time.Hour) // only the initial cycle fires
	c.ipInfoURL = srv.URL
	c.ipv6URLs = nil
	c.pingTargets = []string{"1.1.1.1"}
	c.resolvConf = path

	c.Start()
	defer c.Stop()
	if !c.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	select {
	case report := <-c.Updates():
		if report.CollectedAt.IsZero() {
			t.Error("published report has no timestamp")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no report published")
	}

	c.Stop()
	if c.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestRefreshTriggersCycle(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hits <- struct{}{}:
		default:
		}
		fmt.Fprint(w, `{"ip": "203.0.113.9"}`)
	}))
	defer srv.Close()

	orig := runPingCommand
	defer func() { runPingCommand = orig }()
	runPingCommand = func(args ...string) ([]byte, error) {
		return []byte(linuxPingOutput), nil
	}

	c := New(time.Hour)
	c.ipInfoURL = srv.URL
	c.ipv6URLs = nil
	c.pingTargets = []string{"1.1.1.1"}
	c.resolvConf = filepath.Join(t.TempDir(), "missing")

	c.Start()
	defer c.Stop()

	<-hits // initial cycle
	c.Refresh()
	select {
	case <-hits:
	case <-time.After(3 * time.Second):
		t.Fatal("Refresh() did not trigger a cycle")
	}
}

func TestJoinLocation(t *testing.T) {
	tests := []struct {
		city, country, want string
	}{
		{"Oslo", "NO", "Oslo, NO"},
		{"Oslo", "", "Oslo"},
		{"", "NO", "NO"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := joinLocation(tt.city, tt.country); got != tt.want {
			t.Errorf("joinLocation(%q, %q) = %q, want %q", tt.city, tt.country, got, tt.want)
		}
	}
}
