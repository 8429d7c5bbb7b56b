// Command zkchaind runs participants of an anonymous-payment blockchain whose spends are
// proven with zk-SNARKs: an in-process simulation, or one participant per process over HTTP.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
