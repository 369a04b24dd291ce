// ABOUTME: mDNS service discovery for needle stations
// ABOUTME: Advertises the stream endpoints and browses for stations on the LAN
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the mDNS service stations advertise under
const ServiceType = "_needle._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// TXT values advertised alongside the service
	StreamPath string
	MetaPath   string
	Version    string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered station
type ServerInfo struct {
	Name       string
	Host       string
	Port       int
	StreamPath string
	MetaPath   string
	Version    string
}

// StreamURL returns the audio endpoint
func (s *ServerInfo) StreamURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(s.Host, fmt.Sprint(s.Port)), s.StreamPath)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.StreamPath == "" {
		config.StreamPath = "/stream"
	}
	if config.MetaPath == "" {
		config.MetaPath = "/stream/meta"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// TXT returns the advertised TXT records
func (m *Manager) TXT() []string {
	txt := []string{
		"path=" + m.config.StreamPath,
		"meta=" + m.config.MetaPath,
	}
	if m.config.Version != "" {
		txt = append(txt, "version="+m.config.Version)
	}
	return txt
}

// Advertise announces this station via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXT(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for stations continuously until Stop
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server := fromEntry(entry)
				log.Debug().Str("name", server.Name).Str("host", server.Host).Int("port", server.Port).Msg("discovered station")

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		if err := mdns.Query(queryParams(entries, 3*time.Second)); err != nil {
			log.Warn().Err(err).Msg("mDNS query failed")
		}
		close(entries)
		<-done
	}
}

// Servers returns the channel of discovered stations
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Lookup runs a single query and returns the unique stations found
func Lookup(ctx context.Context, timeout time.Duration) ([]*ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(chan []*ServerInfo, 1)

	go func() {
		seen := make(map[string]bool)
		var servers []*ServerInfo
		for entry := range entries {
			s := fromEntry(entry)
			key := fmt.Sprintf("%s|%s|%d", s.Name, s.Host, s.Port)
			if seen[key] {
				continue
			}
			seen[key] = true
			servers = append(servers, s)
		}
		found <- servers
	}()

	params := queryParams(entries, timeout)
	err := mdns.QueryContext(ctx, params)
	close(entries)
	servers := <-found
	if err != nil && ctx.Err() == nil {
		return servers, fmt.Errorf("mDNS query failed: %w", err)
	}
	return servers, nil
}

func queryParams(entries chan *mdns.ServiceEntry, timeout time.Duration) *mdns.QueryParam {
	params := mdns.DefaultParams(ServiceType)
	params.Domain = "local"
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true
	return params
}

func fromEntry(entry *mdns.ServiceEntry) *ServerInfo {
	s := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Port: entry.Port,
	}
	if entry.AddrV4 != nil {
		s.Host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		s.Host = entry.AddrV6.String()
	} else {
		s.Host = entry.Host
	}
	parseTXT(s, entry.InfoFields)
	return s
}

func parseTXT(s *ServerInfo, fields []string) {
	s.StreamPath, s.MetaPath = "/stream", "/stream/meta"
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "path":
			s.StreamPath = v
		case "meta":
			s.MetaPath = v
		case "version":
			s.Version = v
		}
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
