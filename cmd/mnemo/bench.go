package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/protocol"
)

type benchOptions struct {
	baseURL        string
	turns          int
	texts          []string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

var defaultBenchTexts = []string{
	"help me remember the word ambulance",
	"make the image funnier",
	"change the voice to something calmer",
	"remember the word doctor",
}

type benchTurn struct {
	text    string
	latency time.Duration
	ok      bool
	code    string
	parts   []artifact.Part
}

type benchReport struct {
	SessionID string
	Turns     []benchTurn
}

func newBenchCmd() *cobra.Command {
	var (
		opts     benchOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay chat turns against a running server over websocket and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			if opts.turns <= 0 {
				return fmt.Errorf("--turns must be > 0")
			}
			if opts.turnTimeout < time.Second {
				opts.turnTimeout = time.Second
			}
			opts.texts = splitTexts(textsRaw)

			ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
			defer cancel()
			report, err := runBench(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderBench(report))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "mnemo base URL")
	cmd.Flags().IntVar(&opts.turns, "turns", 8, "number of turns to replay")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	cmd.Flags().DurationVar(&opts.interTurnDelay, "inter-turn", 100*time.Millisecond, "delay between turns")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 2*time.Minute, "timeout waiting for each turn_result")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print replay progress")
	return cmd
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultBenchTexts...)
	}
	return out
}

func runBench(ctx context.Context, opts benchOptions, progress io.Writer) (benchReport, error) {
	client := resty.New().SetBaseURL(opts.baseURL).SetTimeout(45 * time.Second)

	var created struct {
		SessionID string `json:"session_id"`
	}
	res, err := client.R().SetContext(ctx).SetBody(map[string]string{"user_id": "bench"}).SetResult(&created).Post("/v1/sessions")
	if err != nil {
		return benchReport{}, fmt.Errorf("create session: %w", err)
	}
	if res.IsError() || created.SessionID == "" {
		return benchReport{}, fmt.Errorf("create session: HTTP %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
	}
	defer func() {
		_, _ = client.R().Post("/v1/sessions/" + url.PathEscape(created.SessionID) + "/end")
	}()

	wsURL, err := chatWSURL(opts.baseURL, created.SessionID)
	if err != nil {
		return benchReport{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return benchReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(events)
				return
			}
			select {
			case events <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	report := benchReport{SessionID: created.SessionID}
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		if opts.verbose {
			fmt.Fprintf(progress, "bench: turn %d/%d text=%q\n", i+1, opts.turns, text)
		}
		started := time.Now()
		err := conn.WriteJSON(protocol.TurnRequest{
			Type:      protocol.TypeTurnRequest,
			SessionID: created.SessionID,
			Messages:  []artifact.Turn{{Role: artifact.RoleUser, Content: text}},
		})
		if err != nil {
			return report, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		turn, err := awaitTurnResult(events, readErr, opts.turnTimeout)
		if err != nil {
			return report, fmt.Errorf("turn %d: %w", i+1, err)
		}
		turn.text = text
		turn.latency = time.Since(started)
		report.Turns = append(report.Turns, turn)
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	return report, nil
}

// awaitTurnResult skips turn_started and returns on turn_result or
// error_event.
func awaitTurnResult(events <-chan []byte, readErr <-chan error, timeout time.Duration) (benchTurn, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case data, ok := <-events:
			if !ok {
				return benchTurn{}, <-readErr
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			switch env.Type {
			case protocol.TypeTurnResult:
				var result protocol.TurnResult
				if err := json.Unmarshal(data, &result); err != nil {
					return benchTurn{}, err
				}
				turn := benchTurn{ok: true}
				if result.Artifact != nil {
					turn.parts = result.Artifact.Status.UpdatedParts
				}
				return turn, nil
			case protocol.TypeErrorEvent:
				var ev protocol.ErrorEvent
				_ = json.Unmarshal(data, &ev)
				return benchTurn{code: ev.Code}, nil
			}
		case <-timer.C:
			return benchTurn{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func chatWSURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// percentile uses nearest rank over an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted)) + 0.999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func renderBench(r benchReport) string {
	var (
		lines     []string
		latencies []time.Duration
		okCount   int
	)
	for i, t := range r.Turns {
		status := "ok"
		if !t.ok {
			status = "error " + t.code
		} else {
			okCount++
			latencies = append(latencies, t.latency)
		}
		parts := make([]string, len(t.parts))
		for j, p := range t.parts {
			parts[j] = string(p)
		}
		lines = append(lines, fmt.Sprintf("%2d  %-8s %6dms  %-40q %s",
			i+1, status, t.latency.Milliseconds(), t.text, metaStyle.Render(strings.Join(parts, ","))))
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	header := headerStyle.Render(fmt.Sprintf("session %s  %d/%d turns ok", r.SessionID, okCount, len(r.Turns)))
	summary := field("latency", fmt.Sprintf("p50=%dms p95=%dms max=%dms",
		percentile(latencies, 0.50).Milliseconds(),
		percentile(latencies, 0.95).Milliseconds(),
		percentile(latencies, 1).Milliseconds()))
	return header + "\n" + strings.Join(lines, "\n") + "\n" + summary
}
