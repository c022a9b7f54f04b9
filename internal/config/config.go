package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"raspsentinel/sentinel-go/internal/apperr"
)

const DefaultPath = "/etc/raspsentinel/config.yaml"

// Config is the installation's configuration file.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Network    NetworkConfig    `yaml:"network"`
	Block      BlockConfig      `yaml:"block"`
	Notify     NotifyConfig     `yaml:"notify"`
	HTTP       HTTPConfig       `yaml:"http"`
	Vendor     VendorConfig     `yaml:"vendor"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

type AppConfig struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

type NetworkConfig struct {
	Interface       string `yaml:"interface"`
	ScanIntervalSec int    `yaml:"scan_interval_sec"`
	ScanTimeoutSec  int    `yaml:"scan_timeout_sec"`
	GatewayIP       string `yaml:"gateway_ip"`
}

type BlockConfig struct {
	Enable         bool    `yaml:"enable"`
	GatewayIP      string  `yaml:"gateway_ip"`
	ARPIntervalSec float64 `yaml:"arp_interval_sec"`
	// AutoApply is a pointer so an absent key keeps the default of true.
	AutoApply *bool `yaml:"auto_apply"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

type VendorConfig struct {
	OUIPaths []string `yaml:"oui_paths"`
	IABPaths []string `yaml:"iab_paths"`
}

type EnrichmentConfig struct {
	ReverseDNS bool   `yaml:"reverse_dns"`
	DNSServer  string `yaml:"dns_server"`
}

// Load reads path, applies SENTINEL_* environment overrides and defaults,
// then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindConfiguration, "read config %s", path)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "parse config")
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.DataDir == "" {
		c.App.DataDir = "/var/lib/raspsentinel"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Network.ScanIntervalSec == 0 {
		c.Network.ScanIntervalSec = 60
	}
	if c.Network.ScanTimeoutSec == 0 {
		c.Network.ScanTimeoutSec = 15
	}
	if c.Block.GatewayIP == "" {
		c.Block.GatewayIP = c.Network.GatewayIP
	}
	if c.Block.ARPIntervalSec == 0 {
		c.Block.ARPIntervalSec = 2.0
	}
	if c.Block.AutoApply == nil {
		v := true
		c.Block.AutoApply = &v
	}
	if c.Notify.TimeoutSec == 0 {
		c.Notify.TimeoutSec = 10
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8088"
	}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SENTINEL_DATA_DIR", &c.App.DataDir)
	str("SENTINEL_LOG_LEVEL", &c.App.LogLevel)
	str("SENTINEL_INTERFACE", &c.Network.Interface)
	str("SENTINEL_GATEWAY_IP", &c.Network.GatewayIP)
	str("SENTINEL_WEBHOOK_URL", &c.Notify.WebhookURL)
	str("SENTINEL_HTTP_ADDR", &c.HTTP.Addr)
	str("SENTINEL_HTTP_TOKEN", &c.HTTP.Token)

	if v, ok := lookup("SENTINEL_SCAN_INTERVAL_SEC"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperr.Wrapf(err, apperr.KindConfiguration, "SENTINEL_SCAN_INTERVAL_SEC=%q", v)
		}
		c.Network.ScanIntervalSec = n
	}
	if v, ok := lookup("SENTINEL_BLOCK_ENABLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Wrapf(err, apperr.KindConfiguration, "SENTINEL_BLOCK_ENABLE=%q", v)
		}
		c.Block.Enable = b
	}
	return nil
}

// Validate reports the first invalid setting as a configuration error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.Interface) == "" {
		return apperr.New(apperr.KindConfiguration, "network.interface is required")
	}
	if c.Network.ScanIntervalSec <= 0 {
		return apperr.Errorf(apperr.KindConfiguration, "network.scan_interval_sec must be positive, got %d", c.Network.ScanIntervalSec)
	}
	if c.Network.ScanTimeoutSec <= 0 {
		return apperr.Errorf(apperr.KindConfiguration, "network.scan_timeout_sec must be positive, got %d", c.Network.ScanTimeoutSec)
	}
	if c.Block.ARPIntervalSec <= 0 {
		return apperr.Errorf(apperr.KindConfiguration, "block.arp_interval_sec must be positive, got %v", c.Block.ARPIntervalSec)
	}
	if c.Notify.TimeoutSec <= 0 {
		return apperr.Errorf(apperr.KindConfiguration, "notify.timeout_sec must be positive, got %d", c.Notify.TimeoutSec)
	}
	for key, v := range map[string]string{
		"network.gateway_ip": c.Network.GatewayIP,
		"block.gateway_ip":   c.Block.GatewayIP,
	} {
		if v == "" {
			continue
		}
		if ip := net.ParseIP(v); ip == nil || ip.To4() == nil {
			return apperr.Errorf(apperr.KindConfiguration, "%s %q is not an IPv4 address", key, v)
		}
	}
	return nil
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Network.ScanIntervalSec) * time.Second
}

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Network.ScanTimeoutSec) * time.Second
}

func (c *Config) ARPInterval() time.Duration {
	return time.Duration(c.Block.ARPIntervalSec * float64(time.Second))
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSec) * time.Second
}

func (c *Config) AutoApply() bool {
	return c.Block.AutoApply == nil || *c.Block.AutoApply
}

// DNSServer returns the configured reverse-DNS server, else the gateway on port 53.
func (c *Config) DNSServer() string {
	if c.Enrichment.DNSServer != "" {
		return c.Enrichment.DNSServer
	}
	if c.Block.GatewayIP != "" {
		return net.JoinHostPort(c.Block.GatewayIP, "53")
	}
	return ""
}

func (c *Config) String() string {
	return fmt.Sprintf("interface=%s data_dir=%s block=%t http=%s", c.Network.Interface, c.App.DataDir, c.Block.Enable, c.HTTP.Addr)
}
