// Command vhost runs a single-interface-per-neighbor host node: it brings
// up its interfaces, answers ARP, and serves the socket REPL for opening
// and driving TCP connections, per SPEC_FULL.md §4.11.
package main

import (
	"fmt"
	"os"

	"tcpip-core/internal/node"
	"tcpip-core/internal/nodeconfig"
)

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: vhost --config <config.json>")
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

	n.Start()
	n.RunREPL(os.Stdin, os.Stdout)
}
