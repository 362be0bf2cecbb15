package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"ringvote/pkg/ring"
)

// HealthPortOffset separates a node's HTTP health listener from its RPC
// listener: both run on the same host, health on rpcPort+HealthPortOffset.
// This mirrors ZTAP's cmd/metrics.go running Prometheus on its own port
// (9090) alongside the rest of the CLI's services.
const HealthPortOffset = 1000

// HealthAddr derives a node's HTTP health address from its RPC address.
func HealthAddr(rpcAddr string) (string, error) {
	host, portStr, err := splitHostPort(rpcAddr)
	if err != nil {
		return "", err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse port in %s: %w", rpcAddr, err)
	}
	return fmt.Sprintf("%s:%d", host, port+HealthPortOffset), nil
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("address %s has no port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

type statusResponse struct {
	UID     int32  `json:"uid"`
	Alive   bool   `json:"alive"`
	State   string `json:"state"`
	Leader  int32  `json:"leader"`
	IsLead  bool   `json:"is_leader"`
	Round   int    `json:"round"`
	Address string `json:"address"`
}

// ServeHealth starts the gorilla/mux-routed HTTP health endpoints a
// failure detector's Prober and an operator probe against: /alive for a
// cheap liveness check, /status for a fuller snapshot. Grounded on
// jkk2000-distributed-dns's kv_store_node.go router setup, which is the
// only mux-based HTTP server in the retrieved pack.
func ServeHealth(node *ring.Node, addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/alive", func(w http.ResponseWriter, req *http.Request) {
		ok, err := node.IsAlive(req.Context())
		if err != nil || !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{
			UID:     node.UID(),
			Alive:   node.Alive(),
			State:   string(node.State()),
			Leader:  node.LeaderUID(),
			IsLead:  node.IsLeader(),
			Round:   0,
			Address: node.Address(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)

	return http.ListenAndServe(addr, r)
}

// HTTPProber implements ring.Prober by GETting /alive on the leader's
// derived health address.
func HTTPProber(timeout time.Duration) ring.Prober {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, leaderRPCAddr string) (bool, error) {
		healthAddr, err := HealthAddr(leaderRPCAddr)
		if err != nil {
			return false, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+healthAddr+"/alive", nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	}
}
