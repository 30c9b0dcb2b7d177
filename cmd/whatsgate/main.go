// whatsgate - WhatsApp HTTP gateway with reply correlation
// License: MIT

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/whatsgate/whatsgate/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("whatsgate %s\n", formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		serveCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("whatsgate - WhatsApp HTTP gateway v%s\n\n", version)
	fmt.Println("Usage: whatsgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve       Start the gateway (default)")
	fmt.Println("  status      Show readiness of a running gateway")
	fmt.Println("  version     Show version information")
}

func getConfigPath() string {
	if p := os.Getenv("WHATSGATE_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".whatsgate", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}
