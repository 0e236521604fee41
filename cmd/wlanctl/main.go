// Command wlanctl drives a softwlan driver over the in-memory loopback bus.
//
//	wlanctl run --duration 10s --producers 4 --metrics-addr :9100
//	wlanctl probe
//	wlanctl config
package main

import (
	"fmt"
	"os"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
