// Command video-receiver receives a live video stream, keeps it running and
// records it on request.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
