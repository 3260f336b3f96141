// Command connector runs the dataspace connector process engine.
//
//	connector run --config connector.yaml
//	connector validate
//	connector migrate --config connector.yaml
package main

import (
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
