// Command statekit reads, writes and watches persisted stores and converts
// files to and from data URLs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
