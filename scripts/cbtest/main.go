// cbtest verifies circuit breaker isolation in the gateway by killing a
// backend and watching how the gateway answers.
//
// Usage:
//
//	go run ./scripts/cbtest -gateway http://localhost:8080 -prefix /api/users -service user-service -backend-port 3001
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

type gatewayError struct {
	Error   string `json:"error"`
	Service string `json:"service"`
	Code    string `json:"code"`
}

type breakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

func main() {
	var (
		gatewayURL  = flag.String("gateway", "http://localhost:8080", "Gateway URL")
		prefix      = flag.String("prefix", "/api/users", "Route prefix to exercise")
		service     = flag.String("service", "user-service", "Service behind the prefix")
		backendPort = flag.Int("backend-port", 3001, "Backend port to kill")
		requests    = flag.Int("requests", 6, "Requests per phase")
		skipKill    = flag.Bool("skip-kill", false, "Skip the kill backend phase")
	)
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}
	target := *gatewayURL + *prefix

	fmt.Println(colorCyan + "━━━ GATEWAY CIRCUIT BREAKER TEST ━━━" + colorReset)
	fmt.Println()

	fmt.Println(colorBlue + "━━━ PHASE 1: Normal Operation ━━━" + colorReset)
	ok := 0
	for i := 0; i < *requests; i++ {
		status, _, err := send(client, target)
		if err != nil {
			fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
			continue
		}
		if status < 500 {
			ok++
		} else {
			fmt.Printf(colorRed+"  Request %d: Status=%d\n"+colorReset, i+1, status)
		}
	}
	if ok == 0 {
		fmt.Println(colorRed + "  ✗ No successful responses. Are the gateway and backend running?" + colorReset)
		os.Exit(1)
	}
	fmt.Printf(colorGreen+"  ✓ %d/%d requests succeeded\n"+colorReset, ok, *requests)
	fmt.Println()

	if !*skipKill {
		fmt.Println(colorBlue + "━━━ PHASE 2: Backend Failure ━━━" + colorReset)
		if err := killBackend(*backendPort); err != nil {
			fmt.Printf(colorYellow+"  Warning: Could not kill backend: %v\n"+colorReset, err)
		} else {
			fmt.Printf(colorGreen+"  ✓ Backend on port %d killed\n"+colorReset, *backendPort)
		}
		time.Sleep(500 * time.Millisecond)

		unreachable, rejected := 0, 0
		for i := 0; i < *requests; i++ {
			status, body, err := send(client, target)
			if err != nil {
				fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
				continue
			}
			switch {
			case status == http.StatusServiceUnavailable && body.Code != "":
				unreachable++
				fmt.Printf("  Request %d: 503 unreachable (code=%s)\n", i+1, body.Code)
			case status == http.StatusServiceUnavailable:
				rejected++
				fmt.Printf("  Request %d: 503 %s\n", i+1, body.Error)
			default:
				fmt.Printf(colorYellow+"  Request %d: Status=%d\n"+colorReset, i+1, status)
			}
		}

		fmt.Printf("\n  Results: %d unreachable, %d rejected by breaker\n", unreachable, rejected)
		if rejected > 0 {
			fmt.Println(colorGreen + "  ✓ Breaker opened and short-circuited dispatch" + colorReset)
		} else {
			fmt.Println(colorYellow + "  ⚠ Breaker never rejected a request (threshold higher than -requests?)" + colorReset)
		}
		fmt.Println()
	}

	fmt.Println(colorBlue + "━━━ PHASE 3: Breaker Status ━━━" + colorReset)
	breakers, err := getBreakers(client, *gatewayURL+"/debug/services")
	if err != nil {
		fmt.Printf(colorYellow+"  Could not fetch /debug/services: %v\n"+colorReset, err)
		return
	}
	for name, st := range breakers {
		color := colorGreen
		if st.State != "CLOSED" {
			color = colorRed
		}
		marker := ""
		if name == *service {
			marker = " ←"
		}
		fmt.Printf("    %s → %s%s%s (failures: %d)%s\n", name, color, st.State, colorReset, st.ConsecutiveFailures, marker)
	}
	fmt.Println()
	fmt.Println("Restart the backend and wait for the cooldown to see the breaker close again.")
}

func send(client *http.Client, url string) (int, gatewayError, error) {
	var body gatewayError

	resp, err := client.Get(url)
	if err != nil {
		return 0, body, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, body, err
	}
	if resp.StatusCode >= 500 {
		_ = json.Unmarshal(raw, &body)
	}
	return resp.StatusCode, body, nil
}

func killBackend(port int) error {
	output, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return fmt.Errorf("no process found on port %d", port)
	}

	pid := strings.TrimSpace(string(output))
	if pid == "" {
		return fmt.Errorf("no process found on port %d", port)
	}
	return exec.Command("kill", pid).Run()
}

func getBreakers(client *http.Client, url string) (map[string]breakerStats, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		CircuitBreakers map[string]breakerStats `json:"circuitBreakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.CircuitBreakers, nil
}
