// Package main is the entrypoint for power-mode, a host power-profile
// manager for Linux laptops and workstations.
package main

import "github.com/power-mode/power-mode/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
