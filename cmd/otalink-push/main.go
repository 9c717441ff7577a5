// otalink-push sends a payload image to an OTA device over UDP and
// waits for the device to verify and commit it.
//
// Usage:
//
//	otalink-push -addr <host:port> -image <file> [options]
//
// Options:
//
//	-addr    Device address (default: "127.0.0.1:6530")
//	-image   Path of the payload image to push (required)
//	-type    OTA payload type (default: 1)
//	-chunk   Chunk payload size in bytes (default: 253)
//	-timeout Per-response wait (default: 5s)
//	-blake2s Digest with BLAKE2s-256 instead of SHA-256
//	-verbose Enable debug logging
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/otalink/pkg/checksum"
	"github.com/backkem/otalink/pkg/sender"
	"github.com/backkem/otalink/pkg/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6530", "device address")
	imagePath := flag.String("image", "", "path of the payload image to push")
	otaType := flag.Uint("type", 1, "OTA payload type")
	chunkSize := flag.Int("chunk", 0, "chunk payload size in bytes")
	timeout := flag.Duration("timeout", sender.DefaultAckTimeout, "per-response wait")
	blake := flag.Bool("blake2s", false, "digest with BLAKE2s-256 instead of SHA-256")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *imagePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	image, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Fatalf("reading image: %v", err)
	}

	remote, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatalf("resolving device address: %v", err)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	alg := checksum.AlgorithmSHA256
	if *blake {
		alg = checksum.AlgorithmBLAKE2s256
	}

	// The transport needs a handler before the sender exists; bind it
	// late. The read loop only runs after Start below.
	var snd *sender.Sender
	udp, err := transport.NewUDP(transport.UDPConfig{
		RemoteAddr: remote,
		Handler: transport.HandlerFunc(func(id transport.AttributeID, data []byte) {
			snd.HandleAttribute(id, data)
		}),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("creating transport: %v", err)
	}

	snd, err = sender.New(sender.Config{
		Transport:     udp,
		OTAType:       uint16(*otaType),
		ChunkSize:     *chunkSize,
		Algorithm:     alg,
		AckTimeout:    *timeout,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("creating sender: %v", err)
	}

	if err := udp.Start(); err != nil {
		log.Fatalf("starting transport: %v", err)
	}
	defer udp.Stop()

	start := time.Now()
	if err := snd.Push(context.Background(), image); err != nil {
		log.Fatalf("push failed: %v", err)
	}
	log.Printf("pushed %d bytes to %s in %s", len(image), *addr, time.Since(start).Round(time.Millisecond))
}
