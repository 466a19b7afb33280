package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

type flushResult struct {
	OK    bool   `json:"ok"`
	Saved int    `json:"saved"`
	Tick  uint64 `json:"tick"`
	Error string `json:"error"`
}

// summarizeFlush turns a /admin/v1/flush response into one line. Partial flushes report
// how many chunks made it to the store before the failure.
func summarizeFlush(status int, body []byte) (string, error) {
	var res flushResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("flush: http %d: %s", status, strings.TrimSpace(string(body)))
	}
	if !res.OK || status/100 != 2 {
		return "", fmt.Errorf("flush failed after %d chunks: %s", res.Saved, res.Error)
	}
	return fmt.Sprintf("flushed %d chunks at tick %d", res.Saved, res.Tick), nil
}

func flushCmd(args []string) {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("json", false, "print the raw response")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/flush"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 35 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if *raw {
		fmt.Println(string(b))
	}
	line, err := summarizeFlush(resp.StatusCode, b)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !*raw {
		fmt.Println(line)
	}
}
