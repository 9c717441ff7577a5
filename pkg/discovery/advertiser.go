// Package discovery publishes the OTA device as a DNS-SD service so
// management tooling can find it on the local network.
package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Service is the DNS-SD service type for OTA-capable devices.
const Service = "_otalink._udp"

// DefaultDomain is the mDNS domain.
const DefaultDomain = "local."

// Discovery errors.
var (
	ErrAlreadyStarted = errors.New("discovery: already advertising")
	ErrClosed         = errors.New("discovery: advertiser closed")
)

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using
// grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// TXT holds the advertised device attributes.
type TXT struct {
	// DeviceName is the human-readable device name.
	DeviceName string

	// OTATypes lists the payload kinds this device accepts.
	OTATypes []uint16
}

// Encode renders the TXT key/value records.
func (t TXT) Encode() []string {
	records := []string{
		fmt.Sprintf("dn=%s", t.DeviceName),
	}
	for _, typ := range t.OTATypes {
		records = append(records, fmt.Sprintf("ot=%04x", typ))
	}
	return records
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Port is the OTA attribute port to advertise.
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the OTA service to the network.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu           sync.Mutex
	server       MDNSServer
	instanceName string
	closed       bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start begins advertising the OTA service.
func (a *Advertiser) Start(txt TXT) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	instanceName, err := generateRandomInstanceName()
	if err != nil {
		return fmt.Errorf("discovery: failed to generate instance name: %w", err)
	}

	records := txt.Encode()
	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s port=%d txt=%v",
			instanceName, Service, a.config.Port, records)
	}

	server, err := a.factory.Register(
		instanceName,
		Service,
		DefaultDomain,
		a.config.Port,
		records,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("discovery: mDNS registration failed: %w", err)
	}

	if a.log != nil {
		a.log.Infof("advertising %s as %s", Service, instanceName)
	}

	a.server = server
	a.instanceName = instanceName
	return nil
}

// InstanceName returns the advertised instance name, or "" when not
// advertising.
func (a *Advertiser) InstanceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instanceName
}

// Close stops advertising and shuts the advertiser down.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.instanceName = ""
	}

	return nil
}

// generateRandomInstanceName produces a random 64-bit hex instance name.
func generateRandomInstanceName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X", binary.BigEndian.Uint64(b[:])), nil
}
