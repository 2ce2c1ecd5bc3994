// Command wirectl encodes, decodes and checks values in the typed wire
// format from the command line.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
