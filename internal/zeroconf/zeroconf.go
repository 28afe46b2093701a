// Package zeroconf advertises a statekitd instance as an mDNS/DNS-SD service
// and finds other instances on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of the HTTP API.
	ServiceType = "_statekit._tcp"
	domain      = "local."
)

// Service manages mDNS service registration.
type Service struct {
	name string
	port int
	txt  []string
}

// New creates a Service advertising instance name on port with the given
// TXT records (e.g. "version=1", "backend=file").
func New(name string, port int, txt ...string) *Service {
	return &Service{name: name, port: port, txt: txt}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(s.name, ServiceType, domain, s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf: register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "port", s.port, "txt", s.txt)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Peer is one discovered instance.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Addrs    []string `json:"addrs"`
	TXT      []string `json:"txt"`
}

// URL returns the base HTTP URL of the peer, preferring an IPv4 address.
func (p Peer) URL() string {
	host := p.Host
	if len(p.Addrs) > 0 {
		host = p.Addrs[0]
	}
	return fmt.Sprintf("http://%s:%d", host, p.Port)
}

// Browse collects instances until ctx is done.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf: resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			peers = append(peers, peerFrom(e))
		}
	}()
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("zeroconf: browse: %w", err)
	}
	<-ctx.Done()
	<-done
	return peers, nil
}

func peerFrom(e *zeroconf.ServiceEntry) Peer {
	p := Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		TXT:      e.Text,
	}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, "["+ip.String()+"]")
	}
	return p
}
