// streamcheck posts one message to a running server's streaming endpoint
// and prints the framed events as they arrive. Handy for eyeballing frame
// order and mock pacing without a browser.
//
//	go run ./cmd/streamcheck -message "hello" -model gemini-2.5-pro
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:5000", "server base URL")
		chatID  = flag.String("chat", "", "chat id (default: fresh UUID)")
		modelID = flag.String("model", "gemini-2.5-pro", "model id")
		message = flag.String("message", "hello", "user message text")
	)
	flag.Parse()

	if *chatID == "" {
		*chatID = uuid.NewString()
	}

	payload := map[string]any{
		"id": *chatID,
		"messages": []any{
			map[string]any{
				"id":       uuid.NewString(),
				"role":     "user",
				"parts":    []any{map[string]any{"type": "text", "text": *message}},
				"metadata": map[string]any{"modelId": *modelID},
			},
		},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/chats/send", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			fmt.Fprintln(os.Stderr, scanner.Text())
		}
		log.Fatalf("server returned %d", resp.StatusCode)
	}

	frames := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[5:])
		if data == "[DONE]" {
			break
		}
		frames++
		fmt.Printf("%8s  %s\n", time.Since(start).Round(time.Millisecond), data)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stream read error: %v", err)
	}
	fmt.Printf("\nchat=%s frames=%d elapsed=%s\n", *chatID, frames, time.Since(start).Round(time.Millisecond))
}
