// Command fluxbridge forwards JSON sensor payloads from a message source to
// InfluxDB according to the measurement rules of a TOML configuration file.
//
// Usage:
//
//	fluxbridge run -c config.toml
//	fluxbridge validate -c config.toml
//	fluxbridge publish -c config.toml payloads.jsonl
package main

import "os"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
