// otalink-device runs an OTA-capable device: it listens for attribute
// frames over UDP, receives pushed payloads into a download directory,
// and advertises itself over mDNS so management tooling can find it.
//
// Usage:
//
//	otalink-device [options]
//
// Options:
//
//	-port    UDP port to listen on (default: 6530)
//	-dir     Directory for downloaded payloads (default: ".")
//	-name    Advertised device name (default: "otalink device")
//	-verbose Enable debug logging
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/backkem/otalink/pkg/checksum"
	"github.com/backkem/otalink/pkg/discovery"
	"github.com/backkem/otalink/pkg/engine"
	"github.com/backkem/otalink/pkg/storage"
	"github.com/backkem/otalink/pkg/transport"
)

// fileInstaller reports session outcomes against a file sink.
type fileInstaller struct {
	sink *storage.File
}

func (i *fileInstaller) PayloadVerified(otaType uint16, size uint32, digest [checksum.DigestSize]byte) {
	log.Printf("payload verified: %s (%d bytes, digest %x)", i.sink.PayloadPath(otaType), size, digest)
}

func (i *fileInstaller) PayloadInvalid(otaType uint16) {
	log.Printf("payload invalid, discarded (type %#04x)", otaType)
}

func main() {
	port := flag.Int("port", transport.DefaultPort, "UDP port to listen on")
	dir := flag.String("dir", ".", "directory for downloaded payloads")
	name := flag.String("name", "otalink device", "advertised device name")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	sink := storage.NewFile(*dir)

	// The transport needs a handler before the engine exists; bind it
	// late. The read loop only runs after Start below.
	var eng *engine.Engine
	udp, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr: fmt.Sprintf(":%d", *port),
		Handler: transport.HandlerFunc(func(id transport.AttributeID, data []byte) {
			eng.HandleAttribute(id, data)
		}),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("creating transport: %v", err)
	}

	eng, err = engine.New(engine.Config{
		Sink:          sink,
		Sender:        udp,
		Installer:     &fileInstaller{sink: sink},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}

	if err := udp.Start(); err != nil {
		log.Fatalf("starting transport: %v", err)
	}
	defer udp.Stop()

	advertiser, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Port:          *port,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("creating advertiser: %v", err)
	}
	if err := advertiser.Start(discovery.TXT{DeviceName: *name}); err != nil {
		log.Printf("mDNS advertisement unavailable: %v", err)
	}
	defer advertiser.Close()

	log.Printf("device listening on %s", udp.LocalAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
