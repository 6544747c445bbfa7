// Command paxosd runs a single replica of the Paxos cluster, or
// demonstrates one running in-process. See "paxosd --help".
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
