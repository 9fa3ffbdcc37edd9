// Command voicechat is a terminal client for the voice assistant: it holds a
// session WebSocket for voice and text turns and drives the HTTP surface for
// health, uploads and conversation export.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
