package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

func runAuditVerify(args []string) int {
	fs := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var server string
	var sessionID string
	fs.StringVar(&server, "server", "", "chimerad base url")
	fs.StringVar(&sessionID, "session", "", "session id to verify")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if server == "" || sessionID == "" {
		fmt.Fprintln(os.Stderr, "audit verify requires --server and --session")
		return 1
	}

	endpoint := server + "/v1/audit/sessions/" + url.PathEscape(sessionID) + "/verify"
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify audit chain: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read response: %v\n", err)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "server returned %d: %s\n", resp.StatusCode, body)
		return 1
	}

	var result struct {
		Intact bool   `json:"intact"`
		Error  string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		return 1
	}

	if result.Intact {
		fmt.Printf("session=%s chain=intact\n", sessionID)
		return 0
	}
	fmt.Printf("session=%s chain=broken error=%s\n", sessionID, result.Error)
	return 1
}
