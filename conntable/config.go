// File: conntable/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-conntable/api"
	"github.com/momentics/hioload-conntable/core/protocol"
	"github.com/momentics/hioload-conntable/internal/concurrency"
	"github.com/momentics/hioload-conntable/internal/transport"
)

// Saturation policies of the request processor pool.
const (
	PolicyBlock  = "block"
	PolicyReject = "reject"
)

// Config holds parameters fixed for the lifetime of a Table.
type Config struct {
	BindAddr     string `yaml:"bind_addr"`     // interface to listen and dial from
	ExternalAddr string `yaml:"external_addr"` // advertised IP, defaults to BindAddr
	StartPort    int    `yaml:"start_port"`    // first port tried; 0 = OS-assigned
	EndPort      int    `yaml:"end_port"`      // last port tried; 0 = no limit

	ReaderThreads      int    `yaml:"reader_threads"`
	WriterThreads      int    `yaml:"writer_threads"`
	ProcessorThreads   int    `yaml:"processor_threads"` // 0 = deliver on the reader goroutine
	ProcessorQueueSize int    `yaml:"processor_queue_size"`
	SaturationPolicy   string `yaml:"saturation_policy"` // "block" or "reject"

	SendBufferSize int  `yaml:"send_buffer_size"`
	RecvBufferSize int  `yaml:"recv_buffer_size"`
	TCPNoDelay     bool `yaml:"tcp_nodelay"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReaperInterval   time.Duration `yaml:"reaper_interval"`  // 0 disables the idle reaper
	ConnExpireTime   time.Duration `yaml:"conn_expire_time"` // idle time before reaping
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`

	MaxFrameSize int  `yaml:"max_frame_size"`
	CPUAffinity  bool `yaml:"cpu_affinity"` // pin selector goroutines to CPUs
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:           "127.0.0.1",
		StartPort:          0,
		EndPort:            0,
		ReaderThreads:      3,
		WriterThreads:      3,
		ProcessorThreads:   5,
		ProcessorQueueSize: 100,
		SaturationPolicy:   PolicyBlock,
		SendBufferSize:     60000,
		RecvBufferSize:     120000,
		TCPNoDelay:         true,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		ReaperInterval:     0,
		ConnExpireTime:     0,
		ShutdownTimeout:    3 * time.Second,
		MaxFrameSize:       protocol.DefaultMaxFrameSize,
		CPUAffinity:        false,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
// Durations are written as Go duration strings ("3s", "250ms").
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the table cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", api.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}
	if _, err := c.bindIP(); err != nil {
		return invalid("bind_addr %q", c.BindAddr)
	}
	if _, err := c.advertisedIP(); err != nil {
		return invalid("external_addr %q", c.ExternalAddr)
	}
	if c.StartPort < 0 || c.StartPort > 65535 || c.EndPort < 0 || c.EndPort > 65535 {
		return invalid("port range %d-%d", c.StartPort, c.EndPort)
	}
	if c.EndPort != 0 && c.EndPort < c.StartPort {
		return invalid("end_port %d below start_port %d", c.EndPort, c.StartPort)
	}
	if c.ReaderThreads < 1 || c.WriterThreads < 1 {
		return invalid("reader_threads and writer_threads must be positive")
	}
	if c.ProcessorThreads < 0 || c.ProcessorQueueSize < 0 {
		return invalid("processor_threads and processor_queue_size must not be negative")
	}
	if c.SaturationPolicy != PolicyBlock && c.SaturationPolicy != PolicyReject {
		return invalid("saturation_policy %q", c.SaturationPolicy)
	}
	if c.MaxFrameSize < 0 {
		return invalid("max_frame_size %d", c.MaxFrameSize)
	}
	if c.ReaperInterval < 0 || c.ConnExpireTime < 0 || c.ShutdownTimeout < 0 ||
		c.ConnectTimeout < 0 || c.HandshakeTimeout < 0 {
		return invalid("durations must not be negative")
	}
	if c.HandshakeTimeout == 0 {
		return invalid("handshake_timeout must be positive")
	}
	return nil
}

func (c *Config) bindIP() (netip.Addr, error) {
	if c.BindAddr == "" {
		return netip.IPv4Unspecified(), nil
	}
	ip, err := netip.ParseAddr(c.BindAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	return ip.Unmap(), nil
}

// advertisedIP is the IP announced to peers and used as the local identity.
func (c *Config) advertisedIP() (netip.Addr, error) {
	if c.ExternalAddr != "" {
		ip, err := netip.ParseAddr(c.ExternalAddr)
		if err != nil {
			return netip.Addr{}, err
		}
		return ip.Unmap(), nil
	}
	ip, err := c.bindIP()
	if err != nil {
		return netip.Addr{}, err
	}
	if ip.IsUnspecified() {
		if ip.Is6() {
			return netip.IPv6Loopback(), nil
		}
		return netip.AddrFrom4([4]byte{127, 0, 0, 1}), nil
	}
	return ip, nil
}

func (c *Config) policy() concurrency.Policy {
	if c.SaturationPolicy == PolicyReject {
		return concurrency.PolicyReject
	}
	return concurrency.PolicyBlock
}

func (c *Config) socketOptions() transport.SocketOptions {
	return transport.SocketOptions{
		SendBufferSize: c.SendBufferSize,
		RecvBufferSize: c.RecvBufferSize,
		NoDelay:        c.TCPNoDelay,
	}
}
