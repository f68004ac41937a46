// Command vrouter runs a routing node: it forwards transit traffic between
// its interfaces and, when configured, runs RIP to learn and advertise
// routes, per SPEC_FULL.md §4.11.
package main

import (
	"fmt"
	"os"

	"tcpip-core/internal/node"
	"tcpip-core/internal/nodeconfig"
)

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: vrouter --config <config.json>")
		os.Exit(1)
	}

	cfg, err := nodeconfig.LoadJSON(os.Args[2])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println(n.Lr())

	n.Start()
	n.RunREPL(os.Stdin, os.Stdout)
}
