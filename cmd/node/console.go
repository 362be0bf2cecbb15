package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"ringvote/pkg/naming"
	"ringvote/pkg/ring"
	"ringvote/pkg/transport"
)

// runConsole implements the line-oriented operator commands of spec.md §6:
// start, leader, kill, recover, status, debug, reset, plus help/exit.
// Line-at-a-time stdin reading is grounded on
// jkk2000-distributed-dns's kv_store_node.go main(), which drives its own
// setup from Scanf prompts rather than flags.
func runConsole(ctx context.Context, node *ring.Node, registrar *transport.RegistrarClient, registry *naming.CachedRegistry) {
	fmt.Printf("node %d console ready. Type 'help' for commands.\n", node.UID())
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]

		switch cmd {
		case "start":
			if err := node.InitiateElection(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("election started")
			}

		case "leader":
			if l := node.LeaderUID(); l != 0 {
				fmt.Printf("leader: %d (this node is leader: %v)\n", l, node.IsLeader())
			} else {
				fmt.Println("leader: none")
			}

		case "kill":
			if err := node.SetAlive(ctx, false); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("node marked dead; will fail liveness probes")
			}

		case "recover":
			if err := node.Recover(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("node recovered, ring rebuild requested")
			}

		case "reset":
			if err := node.Reset(ctx); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("node reset to idle")
			}

		case "status":
			fmt.Println(node.GetStatus())

		case "members":
			members, err := registrar.GetMembers(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("members: %v\n", members)

		case "debug":
			runDebugFeed(ctx, node)

		case "help":
			printHelp()

		case "exit", "quit":
			if err := registrar.Deregister(ctx, node.UID()); err != nil {
				fmt.Printf("error deregistering: %v\n", err)
			}
			registry.Unbind(node.UID())
			node.Shutdown()
			return

		default:
			fmt.Printf("unknown command %q; type 'help' for a list\n", cmd)
		}
	}
}

// runDebugFeed streams the node's event channel until Ctrl+C / blank line.
func runDebugFeed(ctx context.Context, node *ring.Node) {
	fmt.Println("streaming events, press Enter to stop")
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := node.Events(feedCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := bufio.NewReader(os.Stdin)
		reader.ReadString('\n')
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Printf("[%s] %s: %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.Detail)
		case <-done:
			return
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  start    - initiate an election from this node
  leader   - show the currently accepted leader
  kill     - simulate a crash (fails liveness probes)
  recover  - un-crash and request a ring rebuild
  reset    - return to idle, clearing leader/election state
  status   - print a full status snapshot
  members  - list UIDs registered with the registrar
  debug    - stream election events until Enter is pressed
  help     - show this message
  exit     - shut down this node`)
}
