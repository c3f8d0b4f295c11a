package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsamfire/golevcan/pkg/address"
	"github.com/samsamfire/golevcan/pkg/config"
	gw "github.com/samsamfire/golevcan/pkg/gateway/http"
	"github.com/samsamfire/golevcan/pkg/network"
	n "github.com/samsamfire/golevcan/pkg/node"
	log "github.com/sirupsen/logrus"
)

func main() {
	bus, err := config.LoadBus()
	if err != nil {
		log.Fatalf("invalid environment : %v", err)
	}
	// Command line arguments, environment gives the defaults
	canInterface := flag.String("i", bus.Interface, "can interface e.g. socketcan,virtual,loopback")
	channel := flag.String("c", bus.Channel, "can channel e.g. can0,vcan0,localhost:18889")
	bitrate := flag.Int("b", bus.Bitrate, "bitrate")
	configPath := flag.String("f", "", "node configuration file (ini)")
	httpAddr := flag.String("http", bus.HTTP, "serve the http gateway on this address, e.g. :8090")
	logLevel := flag.String("log", bus.LogLevel, "log level")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	cfg := n.Config{Name: address.ShortName{NodeID: 0x40, DynamicID: true}, NodeName: "levcan"}
	if *configPath != "" {
		cfg, err = config.LoadNode(*configPath)
		if err != nil {
			log.Fatalf("failed to load %v : %v", *configPath, err)
		}
	}

	network := network.NewNetwork(nil, nil)
	err = network.Connect(*canInterface, *channel, *bitrate)
	if err != nil {
		log.Fatal(err)
	}
	defer network.Disconnect()

	node, err := network.CreateNode(cfg)
	if err != nil {
		log.Fatal(err)
	}
	gateway := gw.NewGatewayServer(network, cfg.Name.NodeID, nil)
	node.OnStateChange(func(state address.State, nodeId uint8) {
		log.Infof("local node %d is %v", nodeId, state)
		if state == address.StateOnline {
			gateway.SetDefaultNodeId(nodeId)
		}
	})
	node.OnAddressChange(func(name address.ShortName, event address.Event) {
		log.Infof("%v : %v", event, name)
	})
	node.OnTrace(func(msg string) {
		log.Info(msg)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *httpAddr != "" {
		server := &http.Server{Addr: *httpAddr, Handler: gateway}
		go func() {
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("gateway stopped : %v", err)
				stop()
			}
		}()
		defer server.Shutdown(context.Background())
		log.Infof("gateway listening on %v", *httpAddr)
	}
	<-ctx.Done()
	log.Info("exiting")
}
