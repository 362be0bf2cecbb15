package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ringvote/pkg/cloudpeers"
	"ringvote/pkg/config"
	"ringvote/pkg/naming"
	"ringvote/pkg/ring"
	"ringvote/pkg/transport"
)

// registryRefreshInterval bounds how stale a node's view of its peers'
// addresses can get between ring rebuilds; the registrar itself is still
// the source of truth, this only saves a round trip on the common path.
const registryRefreshInterval = 5 * time.Second

// registrarRPCPort is the port cmd/registrar/serve.go listens on by
// default; EC2 discovery only learns a registrar host's private IP, so
// this fills in the port half of the address.
const registrarRPCPort = "1099"

var serveCmd = &cobra.Command{
	Use:   "serve <uid>",
	Short: "Join the ring as the given UID and open the operator console",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		uid64, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			log.Fatalf("invalid uid %q: %v", args[0], err)
		}
		uid := int32(uid64)

		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		registrarAddr, _ := cmd.Flags().GetString("registrar-addr")
		configPath, _ := cmd.Flags().GetString("config")
		discoverEC2, _ := cmd.Flags().GetBool("discover-ec2")
		ec2Region, _ := cmd.Flags().GetString("ec2-region")

		ctx := context.Background()

		if discoverEC2 && !cmd.Flags().Changed("registrar-addr") {
			discovered, err := discoverRegistrarAddr(ctx, ec2Region)
			if err != nil {
				log.Fatalf("ec2 discovery: %v", err)
			}
			registrarAddr = discovered
			fmt.Printf("discovered registrar via ec2 tags at %s\n", registrarAddr)
		}

		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}

		registrarClient, err := transport.DialRegistrar(registrarAddr)
		if err != nil {
			log.Fatalf("dial registrar at %s: %v", registrarAddr, err)
		}
		defer registrarClient.Close()

		registry := naming.NewRegistry()
		cachedRegistry := naming.NewCachedRegistry(registry, registryRefreshInterval)
		node := ring.NewNode(uid, rpcAddr, cfg, registrarClient, transport.DialerThroughRegistry(cachedRegistry))

		ln, err := transport.ServeNode(node, rpcAddr)
		if err != nil {
			log.Fatalf("serve node: %v", err)
		}
		defer ln.Close()
		fmt.Printf("node %d listening for RPC on %s\n", uid, ln.Addr())

		healthAddr, err := transport.HealthAddr(rpcAddr)
		if err != nil {
			log.Fatalf("derive health address: %v", err)
		}
		go func() {
			if err := transport.ServeHealth(node, healthAddr); err != nil {
				log.Printf("health server stopped: %v", err)
			}
		}()
		fmt.Printf("node %d health endpoint on http://%s/status\n", uid, healthAddr)

		if err := registrarClient.Register(ctx, uid, node); err != nil {
			log.Fatalf("register with registrar: %v", err)
		}
		fmt.Printf("node %d registered with registrar at %s\n", uid, registrarAddr)

		go refreshRegistryLoop(ctx, registrarClient, cachedRegistry, uid, rpcAddr)
		go invalidateRegistryOnRebuild(ctx, node, cachedRegistry)

		leaderOf := func() (int32, string, bool) {
			l := node.LeaderUID()
			if l == 0 {
				return 0, "", false
			}
			addr, err := registrarClient.LookupAddress(context.Background(), l)
			if err != nil {
				return l, "", false
			}
			return l, addr, true
		}
		detector := ring.NewFailureDetector(node, registrarClient, leaderOf, transport.HTTPProber(2*time.Second), cfg)
		if err := detector.Start(ctx); err != nil {
			log.Fatalf("start failure detector: %v", err)
		}
		defer detector.Stop()

		runConsole(ctx, node, registrarClient, cachedRegistry)
	},
}

// discoverRegistrarAddr finds the registrar-tagged EC2 instance in region
// and returns its RPC address, for nodes booting on hosts that don't know
// a fixed registrar address ahead of time (SPEC_FULL.md cloud bootstrap).
func discoverRegistrarAddr(ctx context.Context, region string) (string, error) {
	client, err := cloudpeers.NewClient(ctx, region)
	if err != nil {
		return "", fmt.Errorf("build ec2 client: %w", err)
	}
	peers, err := client.DiscoverPeers(ctx)
	if err != nil {
		return "", fmt.Errorf("discover peers: %w", err)
	}
	registrar, ok := cloudpeers.FindRegistrar(peers)
	if !ok {
		return "", fmt.Errorf("no instance tagged %s=%s found in region %s", cloudpeers.RoleTag, cloudpeers.RoleRegistrar, region)
	}
	return registrar.PrivateIP + ":" + registrarRPCPort, nil
}

func init() {
	serveCmd.Flags().String("rpc-addr", "127.0.0.1:7000", "address to bind this node's RPC listener to (must be unique per node on a host)")
	serveCmd.Flags().String("registrar-addr", "127.0.0.1:1099", "address of the registrar to join")
	serveCmd.Flags().String("config", "", "path to a YAML config file overriding the election defaults")
	serveCmd.Flags().Bool("discover-ec2", false, "find the registrar via EC2 instance tags instead of --registrar-addr")
	serveCmd.Flags().String("ec2-region", "us-east-1", "AWS region to search when --discover-ec2 is set")
	rootCmd.AddCommand(serveCmd)
}
