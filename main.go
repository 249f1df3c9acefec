package main

import (
	"flag"
	"fmt"
	"os"

	"sapsan-iro/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	if err := appbootstrap.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sapsan-iro: %v\n", err)
		os.Exit(1)
	}
}
