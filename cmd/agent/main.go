package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/xiaonanln/netmon/client"
	"github.com/xiaonanln/netmon/collector"
	netmon_pb "github.com/xiaonanln/netmon/proto"
	"github.com/xiaonanln/netmon/util/logger"
)

func main() {
	var (
		serverAddrs = flag.String("server", "localhost:50051", "Comma separated server addresses, tried in order on reconnect")
		nodeID      = flag.String("node-id", "node-01", "Node ID reported with every record")
		iface       = flag.String("iface", "", "Network interface to report (default: first active non-loopback interface)")
		interval    = flag.Duration("interval", client.DefaultInterval, "Interval between records")
		duration    = flag.Duration("duration", 5*time.Minute, "Stop streaming after this long (0 streams until interrupted)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		compress    = flag.Bool("compress", false, "Compress records with zstd")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetDefaultLevel(level)

	if *iface == "" {
		name, err := collector.DefaultInterface()
		if err != nil {
			log.Fatalf("Failed to pick an interface: %v", err)
		}
		*iface = name
	}

	col, err := collector.New(*nodeID, *iface)
	if err != nil {
		log.Fatalf("Failed to create collector: %v", err)
	}

	agentLogger := logger.NewLogger("Agent(" + *nodeID + ")")
	opts := []client.Option{
		client.WithLogger(agentLogger),
		client.WithOnAck(func(ack *netmon_pb.MetricsAck) {
			agentLogger.Infof("Received ACK: %s (timestamp: %d)", ack.GetMessage(), ack.GetServerTimestamp())
		}),
	}
	if *compress {
		opts = append(opts, client.WithCompressor(netmon_pb.CompressorName))
	}
	c, err := client.NewClient(strings.Split(*serverAddrs, ","), opts...)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *duration)
		defer timeoutCancel()
	}

	agentLogger.Infof("Streaming %s metrics to %s every %v", *iface, *serverAddrs, *interval)
	if err := c.Stream(ctx, *interval, col.Collect); err != nil {
		log.Fatalf("Streaming failed: %v", err)
	}
	agentLogger.Infof("Streaming completed")
}
