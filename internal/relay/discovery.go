package relay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// mDNS service identity of relay servers.
const (
	ServiceType = "_lumitracker-ob._tcp"
	Domain      = "local."
)

// Advertiser publishes a relay server on the local network.
type Advertiser struct {
	server *zeroconf.Server
	logger *zap.Logger
	once   sync.Once
}

// Advertise registers instance on port until Shutdown.
func Advertise(instance string, port int, txt []string, logger *zap.Logger) (*Advertiser, error) {
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mdns service: %w", err)
	}
	logger = logger.Named("mdns")
	logger.Info("advertising relay server",
		zap.String("instance", instance),
		zap.Int("port", port))
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.once.Do(func() {
		a.server.Shutdown()
		a.logger.Info("mdns advertisement stopped")
	})
}

// ServerInfo is a relay server found on the network.
type ServerInfo struct {
	Instance string   `json:"instance"`
	HostName string   `json:"host_name"`
	Port     int      `json:"port"`
	IPs      []string `json:"ips"`
	Text     []string `json:"text,omitempty"`
}

// Addr returns host:port using the first IPv4 address.
func (i ServerInfo) Addr() string {
	if len(i.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(i.IPs[0], strconv.Itoa(i.Port))
}

// Discover browses for relay servers for at most timeout.
func Discover(ctx context.Context, timeout time.Duration, logger *zap.Logger) ([]ServerInfo, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 10)
	collected := make(chan []ServerInfo, 1)
	go func() {
		var found []ServerInfo
		for entry := range entries {
			if info, ok := parseEntry(entry); ok {
				found = append(found, info)
			}
		}
		collected <- found
	}()

	if err := resolver.Browse(browseCtx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse mdns services: %w", err)
	}

	<-browseCtx.Done()
	// The resolver closes entries once browsing is over.
	var found []ServerInfo
	select {
	case found = <-collected:
	case <-time.After(time.Second):
		logger.Warn("mdns resolver did not finish in time")
	}

	logger.Named("mdns").Debug("mdns discovery completed", zap.Int("count", len(found)))
	return found, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return ServerInfo{}, false
	}
	info := ServerInfo{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
	}
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}
	return info, true
}
