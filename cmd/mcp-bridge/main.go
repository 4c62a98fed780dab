// ABOUTME: stdio-to-HTTP bridge for MCP clients that only speak stdio
// ABOUTME: Forwards JSON-RPC lines from stdin to a gateway's /mcp/http endpoint

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

// requestTimeout bounds one forwarded request end to end.
const requestTimeout = 60 * time.Second

// maxLineSize bounds one stdin line (1MB, matching the gateway's body limit).
const maxLineSize = 1 << 20

type bridge struct {
	endpoint string
	token    string
	client   *http.Client
	out      io.Writer
}

func main() {
	endpoint := os.Getenv("SLACK_MCP_URL")
	token := os.Getenv("SLACK_MCP_TOKEN")

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--url":
			if i+1 >= len(args) {
				fatal("--url requires a value")
			}
			endpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--url="):
			endpoint = strings.TrimPrefix(arg, "--url=")
		case arg == "--token":
			if i+1 >= len(args) {
				fatal("--token requires a value")
			}
			token = args[i+1]
			i++
		case strings.HasPrefix(arg, "--token="):
			token = strings.TrimPrefix(arg, "--token=")
		default:
			fatal("unknown argument: " + arg)
		}
	}

	if endpoint == "" {
		fatal("gateway URL required: pass --url or set SLACK_MCP_URL")
	}
	if token == "" {
		fatal("access token required: pass --token or set SLACK_MCP_TOKEN")
	}
	if !strings.Contains(endpoint, "/mcp/") {
		endpoint = strings.TrimSuffix(endpoint, "/") + "/mcp/http"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := &bridge{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{},
		out:      os.Stdout,
	}

	logInfo("bridge connected to %s", endpoint)
	if err := b.run(ctx, os.Stdin); err != nil {
		fatal(err.Error())
	}
}

// run reads newline-delimited JSON-RPC messages from r and forwards each to
// the gateway. Responses come back on stdout, one per line.
func (b *bridge) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp, err := b.forward(ctx, line)
		if err != nil {
			logWarn("forwarding request failed: %v", err)
			b.writeLine(bridgeError(line, err))
			continue
		}
		if resp != nil {
			b.writeLine(resp)
		}
	}
	return scanner.Err()
}

// forward posts one message to the gateway. A nil result with no error
// means the message was a notification and produced no response.
func (b *bridge) forward(ctx context.Context, msg []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(msg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

func (b *bridge) writeLine(line []byte) {
	fmt.Fprintf(b.out, "%s\n", line)
}

// bridgeError synthesizes a JSON-RPC error response for a message we could
// not deliver, echoing the original id when it can be recovered.
func bridgeError(msg []byte, err error) []byte {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(msg, &probe)

	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      probe.ID,
		"error": map[string]any{
			"code":    -32000,
			"message": "gateway unreachable: " + err.Error(),
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// Diagnostics go to stderr so stdout stays a clean JSON-RPC stream.

func logInfo(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.CyanString("INF ")+fmt.Sprintf(format, args...))
}

func logWarn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString("WRN ")+fmt.Sprintf(format, args...))
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("ERR ")+msg)
	os.Exit(1)
}
