// whatsgate - WhatsApp HTTP gateway with reply correlation
// License: MIT

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Println("whatsgate Status")
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗ (defaults)")
	}
	fmt.Println("Bridge:", cfg.WhatsApp.BridgeURL)

	url := fmt.Sprintf("http://%s/status", cfg.ListenAddr())
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Gateway: not running ✗")
		return
	}
	defer resp.Body.Close()

	var status struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Println("Gateway: unexpected response ✗")
		return
	}

	if status.Ready {
		fmt.Println("Gateway: running, WhatsApp ready ✓")
	} else {
		fmt.Println("Gateway: running, WhatsApp not ready (scan QR at /qr)")
	}
}
