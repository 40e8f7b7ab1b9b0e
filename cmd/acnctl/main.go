// Command acnctl is a minimal operator CLI over the request surface's
// operator-token-guarded infrastructure endpoints (spec §6): dead-letter
// queue retry and payment-task retry. It speaks plain net/http against a
// running acnd instance rather than talking to storage directly, the same
// way an operator would from a shell script or cron job.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		baseURL       = flag.String("base-url", envOr("ACN_BASE_URL", "http://localhost:8080"), "ACN request surface base URL")
		operatorToken = flag.String("operator-token", os.Getenv("ACN_OPERATOR_TOKEN"), "operator token (X-Internal-Token)")
	)
	flag.Usage = usage
	flag.Parse()

	if *operatorToken == "" {
		fmt.Fprintln(os.Stderr, "acnctl: --operator-token or ACN_OPERATOR_TOKEN is required")
		os.Exit(2)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}

	var err error
	switch args[0] {
	case "dlq-retry":
		fs := flag.NewFlagSet("dlq-retry", flag.ExitOnError)
		maxRetries := fs.Int("max-retries", 3, "drop entries at or above this attempt count")
		fs.Parse(args[1:])
		err = post(client, *baseURL, *operatorToken, fmt.Sprintf("/dlq/retry?max_retries=%d", *maxRetries))
	case "payment-retry":
		fs := flag.NewFlagSet("payment-retry", flag.ExitOnError)
		fs.Parse(args[1:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "acnctl: payment-retry requires a payment_task_id argument")
			os.Exit(2)
		}
		err = post(client, *baseURL, *operatorToken, "/payments/tasks/"+fs.Arg(0)+"/retry")
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "acnctl:", err)
		os.Exit(1)
	}
}

func post(client *http.Client, baseURL, operatorToken, path string) error {
	req, err := http.NewRequest(http.MethodPost, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-Token", operatorToken)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}
	fmt.Println(string(body))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, `acnctl: operator CLI for the ACN dead-letter queue and payment retry endpoints (spec §6)

Usage:
  acnctl [--base-url URL] [--operator-token TOKEN] <command> [args]

Commands:
  dlq-retry [--max-retries N]      drain the dead-letter queue
  payment-retry <payment_task_id>  re-send the webhook event for a payment task's
                                   current status (makes no wallet call)`)
}
