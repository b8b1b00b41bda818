package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultHealthAddr = ":8081"

type healthStatus struct {
	Status     string `json:"status"`
	Running    bool   `json:"running"`
	ActiveJobs int    `json:"active_jobs"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", os.Getenv("HEALTH_ADDR"), "Health server address")
	_ = fs.Parse(args)

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(healthURL(*addr))
	if err != nil {
		return fmt.Errorf("courier is not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var status healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("unexpected health response (HTTP %d): %w", resp.StatusCode, err)
	}

	state := success(status.Status)
	if !status.Running {
		state = fail(status.Status)
	}
	fmt.Printf("  %s %s\n", dim("Status:     "), state)
	printField("Active jobs:", strconv.Itoa(status.ActiveJobs))
	if status.Version != "" {
		printField("Version:    ", status.Version)
	}
	printField("Uptime:     ", status.Uptime)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dispatcher not running (HTTP %d)", resp.StatusCode)
	}
	return nil
}

func healthURL(addr string) string {
	if addr == "" {
		addr = defaultHealthAddr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + "/health"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}
