// Package telemetry collects network-facing measurements in the
// background: public IP and ISP metadata, latency/loss/jitter from
// ping, configured DNS servers, and an IPv6 leak probe. Every probe is
// read-only and bounded by its own timeout; results stream to
// consumers over a channel so nothing here can block the connection
// manager.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yllada/vpn-guard/common"
)

// Report is the merged view of the latest completed probes. Zero
// values mean "not measured yet".
type Report struct {
	PublicIP   string
	ISP        string
	Location   string
	DNS        []string
	LatencyMs  int
	PacketLoss float64
	JitterMs   int
	// IPv6Leak is meaningful only when IPv6Checked is set.
	IPv6Leak    bool
	IPv6Checked bool
	LastError   string
	CollectedAt time.Time
}

// Command execution is indirected for tests.
var runPingCommand = func(args ...string) ([]byte, error) {
	return exec.Command("ping", args...).CombinedOutput()
}

// Collector periodically refreshes a Report and publishes each merge
// on the updates channel.
type Collector struct {
	mu       sync.Mutex
	interval time.Duration
	report   Report
	running  bool
	stopChan chan struct{}
	kick     chan struct{}
	updates  chan Report

	client     *http.Client
	ipv6Client *http.Client

	// Probe endpoints, overridable in tests.
	ipInfoURL   string
	ipFallbacks []string
	ipv6URLs    []string
	pingTargets []string
	resolvConf  string
}

// New creates a collector. interval <= 0 selects the default.
func New(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = common.TelemetryInterval
	}
	return &Collector{
		interval:    interval,
		kick:        make(chan struct{}, 1),
		updates:     make(chan Report, 8),
		client:      &http.Client{Timeout: common.APITimeout},
		ipv6Client:  &http.Client{Timeout: common.PingTimeout},
		ipInfoURL:   common.IPInfoURL,
		ipFallbacks: common.IPFallbackURLs,
		ipv6URLs:    common.IPv6CheckURLs,
		pingTargets: common.PingTargets,
		resolvConf:  "/etc/resolv.conf",
	}
}

// Updates returns the channel carrying merged reports. Sends are
// non-blocking; a slow consumer only misses intermediate merges.
func (c *Collector) Updates() <-chan Report {
	return c.updates
}

// Latest returns the most recent merged report.
func (c *Collector) Latest() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Start begins the collection loop.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	stop := c.stopChan
	c.mu.Unlock()

	common.LogInfo("Telemetry collector started (interval: %v)", c.interval)

	go c.runLoop(stop)
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	common.LogInfo("Telemetry collector stopped")
}

// IsRunning returns whether the collector loop is active.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Refresh requests an immediate collection cycle.
func (c *Collector) Refresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Collector) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(stop)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.collect(stop)
		case <-c.kick:
			c.collect(stop)
		}
	}
}

// collect runs the probe groups concurrently and publishes after each
// one lands. A cycle that outlives stop publishes nothing further.
func (c *Collector) collect(stop chan struct{}) {
	var wg sync.WaitGroup
	probes := []func(){c.probeAddress, c.probeLatency, c.probeSecurity}
	for _, probe := range probes {
		wg.Add(1)
		go func(p func()) {
			defer wg.Done()
			p()
			select {
			case <-stop:
			default:
				c.publish()
			}
		}(probe)
	}
	wg.Wait()
}

func (c *Collector) publish() {
	c.mu.Lock()
	c.report.CollectedAt = time.Now()
	snap := c.report
	c.mu.Unlock()

	select {
	case c.updates <- snap:
	default:
	}
}

func (c *Collector) apply(update func(*Report)) {
	c.mu.Lock()
	update(&c.report)
	c.mu.Unlock()
}

// probeAddress resolves the public IP plus ISP/location metadata,
// falling through plain-IP services when the metadata API fails.
func (c *Collector) probeAddress() {
	if info, err := c.fetchIPInfo(); err == nil {
		c.apply(func(r *Report) {
			r.PublicIP = info.IP
			r.ISP = info.Org
			r.Location = joinLocation(info.City, info.Country)
			r.LastError = ""
		})
		return
	}

	for _, url := range c.ipFallbacks {
		ip, err := c.fetchPlainIP(url)
		if err != nil {
			continue
		}
		c.apply(func(r *Report) {
			r.PublicIP = ip
			r.ISP = ""
			r.Location = ""
			r.LastError = ""
		})
		return
	}

	common.LogWarn("Telemetry: public IP lookup failed on all services")
	c.apply(func(r *Report) {
		r.PublicIP = ""
		r.LastError = "public IP lookup failed"
	})
}

type ipInfoResponse struct {
	IP      string `json:"ip"`
	Org     string `json:"org"`
	City    string `json:"city"`
	Country string `json:"country"`
}

func (c *Collector) fetchIPInfo() (*ipInfoResponse, error) {
	var info *ipInfoResponse
	err := withRetry(func() error {
		body, err := c.get(c.client, c.ipInfoURL)
		if err != nil {
			return err
		}
		var parsed ipInfoResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return err
		}
		if parsed.IP == "" {
			return fmt.Errorf("response carries no ip field")
		}
		info = &parsed
		return nil
	})
	return info, err
}

func (c *Collector) fetchPlainIP(url string) (string, error) {
	var ip string
	err := withRetry(func() error {
		body, err := c.get(c.client, url)
		if err != nil {
			return err
		}
		candidate := strings.TrimSpace(string(body))
		if net.ParseIP(candidate) == nil {
			return fmt.Errorf("%q is not an IP address", candidate)
		}
		ip = candidate
		return nil
	})
	return ip, err
}

func (c *Collector) get(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4096))
}

// probeLatency pings the first target that answers and records
// avg/loss/stddev from its summary.
func (c *Collector) probeLatency() {
	for _, target := range c.pingTargets {
		var sample pingSample
		err := withRetry(func() error {
			output, err := runPingCommand(pingArgs(target)...)
			if err != nil {
				return err
			}
			parsed, ok := parsePingOutput(string(output))
			if !ok {
				return fmt.Errorf("no rtt summary for %s", target)
			}
			sample = parsed
			return nil
		})
		if err == nil {
			c.apply(func(r *Report) {
				r.LatencyMs = sample.avgMs
				r.PacketLoss = sample.loss
				r.JitterMs = sample.jitterMs
			})
			return
		}
	}

	// Nothing answered: report total loss rather than stale numbers.
	c.apply(func(r *Report) {
		r.LatencyMs = 0
		r.PacketLoss = 100
		r.JitterMs = 0
	})
}

// pingArgs builds the ping invocation for the host OS. The deadline
// flag differs between iputils and BSD ping.
func pingArgs(target string) []string {
	secs := strconv.Itoa(int(common.PingTimeout / time.Second))
	if runtime.GOOS == "darwin" {
		return []string{"-c", "10", "-i", "0.2", "-t", secs, target}
	}
	return []string{"-c", "10", "-i", "0.2", "-w", secs, target}
}

type pingSample struct {
	avgMs    int
	loss     float64
	jitterMs int
}

// parsePingOutput extracts loss and the rtt summary from ping output.
// Handles both the iputils "rtt min/avg/max/mdev" and the BSD
// "round-trip min/avg/max/stddev" formats.
func parsePingOutput(output string) (pingSample, bool) {
	var sample pingSample
	haveRTT := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "packet loss") {
			for _, part := range strings.Split(line, ",") {
				part = strings.TrimSpace(part)
				if strings.Contains(part, "packet loss") {
					percent := strings.TrimSpace(strings.Split(part, "%")[0])
					if val, err := strconv.ParseFloat(percent, 64); err == nil {
						sample.loss = val
					}
				}
			}
		}

		if strings.Contains(line, "min/avg/max") {
			_, values, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			fields := strings.Split(strings.TrimSpace(values), "/")
			if len(fields) < 4 {
				continue
			}
			if avg, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err == nil {
				sample.avgMs = int(avg)
				haveRTT = true
			}
			jitterField := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fields[3]), "ms"))
			if jitter, err := strconv.ParseFloat(jitterField, 64); err == nil {
				sample.jitterMs = int(jitter)
			}
		}
	}

	return sample, haveRTT
}

// probeSecurity records the configured DNS servers and whether IPv6
// egress exists outside the tunnel.
func (c *Collector) probeSecurity() {
	if servers := c.readDNSServers(); len(servers) > 0 {
		c.apply(func(r *Report) { r.DNS = servers })
	}

	leak := false
	for _, url := range c.ipv6URLs {
		body, err := c.get(c.ipv6Client, url)
		if err != nil {
			continue
		}
		if net.ParseIP(strings.TrimSpace(string(body))) != nil {
			leak = true
			break
		}
	}
	c.apply(func(r *Report) {
		r.IPv6Leak = leak
		r.IPv6Checked = true
	})
}

// readDNSServers parses the nameserver lines from resolv.conf.
func (c *Collector) readDNSServers() []string {
	data, err := os.ReadFile(c.resolvConf)
	if err != nil {
		return nil
	}

	var servers []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			servers = append(servers, fields[1])
		}
	}
	return servers
}

// withRetry runs fn up to the probe retry budget with a fixed pause
// between attempts.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < common.ProbeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(common.ProbeRetryDelay)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

func joinLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}
