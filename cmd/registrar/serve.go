package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ringvote/pkg/config"
	"ringvote/pkg/ring"
	"ringvote/pkg/ringmetrics"
	"ringvote/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registrar's RPC and metrics servers",
	Run: func(cmd *cobra.Command, args []string) {
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		metricsPort, _ := cmd.Flags().GetInt("metrics-port")
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}

		registrar := ring.NewRegistrar(cfg)

		ln, err := transport.ServeRegistrar(registrar, rpcAddr)
		if err != nil {
			log.Fatalf("serve registrar: %v", err)
		}
		defer ln.Close()
		fmt.Printf("registrar listening for RPC on %s\n", ln.Addr())

		go func() {
			if err := ringmetrics.StartServer(metricsPort); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		fmt.Printf("registrar metrics at http://localhost:%d/metrics\n", metricsPort)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("registrar shutting down")
	},
}

func init() {
	serveCmd.Flags().String("rpc-addr", ":1099", "address to listen on for node/registrar RPC traffic")
	serveCmd.Flags().Int("metrics-port", 9090, "port for the Prometheus metrics endpoint")
	serveCmd.Flags().String("config", "", "path to a YAML config file overriding the election defaults")
	rootCmd.AddCommand(serveCmd)
}
