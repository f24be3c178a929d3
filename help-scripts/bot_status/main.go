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

	"trendrider/models"
)

type statusResponse struct {
	Time        time.Time                 `json:"time"`
	Symbol      string                    `json:"symbol"`
	State       models.PositionState      `json:"state"`
	CycleSeq    uint64                    `json:"cycleSeq"`
	LastCycleAt *time.Time                `json:"lastCycleAt"`
	LastError   string                    `json:"lastError"`
	Signal      *models.SignalSnapshot    `json:"signal"`
	Indicators  *models.IndicatorSnapshot `json:"indicators"`
	Position    *models.PositionSnapshot  `json:"position"`
}

type performanceResponse struct {
	Performance models.Performance `json:"performance"`
}

func baseURL(addr string) (string, error) {
	url := strings.TrimSpace(addr)
	if url == "" {
		return "", fmt.Errorf("status address is empty")
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/"), nil
}

func fetch(client *http.Client, url string) ([]byte, int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

func main() {
	defaultAddr := os.Getenv("STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6061"
	}

	addr := flag.String("addr", defaultAddr, "status server address or URL")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	perf := flag.Bool("perf", false, "also print the performance summary")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	flag.Parse()

	base, err := baseURL(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: *timeout}

	body, code, err := fetch(client, base+"/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "status request failed: %v\n", err)
		os.Exit(1)
	}
	if code != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status request error: %d\n%s\n", code, string(body))
		os.Exit(1)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}
	printStatus(os.Stdout, payload)

	if *perf {
		body, code, err := fetch(client, base+"/performance")
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "performance request failed: %v\n", err)
		case code != http.StatusOK:
			fmt.Printf("Performance: unavailable (%d)\n", code)
		default:
			var p performanceResponse
			if err := json.Unmarshal(body, &p); err != nil {
				fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Performance: trades=%d winRate=%.1f%% pf=%.2f pnl=%.4f maxDD=%.4f\n",
				p.Performance.Trades, p.Performance.WinRate*100, p.Performance.ProfitFactor,
				p.Performance.TotalPnL, p.Performance.MaxDrawdown)
		}
	}
}

func printStatus(w io.Writer, payload statusResponse) {
	fmt.Fprintf(w, "Time: %s\n", formatTime(payload.Time))
	fmt.Fprintf(w, "Symbol: %s\n", payload.Symbol)
	last := time.Time{}
	if payload.LastCycleAt != nil {
		last = *payload.LastCycleAt
	}
	fmt.Fprintf(w, "State: %s cycleSeq=%d lastCycle=%s\n", payload.State, payload.CycleSeq, formatTime(last))
	if payload.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", payload.LastError)
	}

	if payload.Signal == nil {
		fmt.Fprintln(w, "Signal: none")
	} else {
		fmt.Fprintf(w, "Signal: %s confidence=%.2f price=%.2f book=%.2f time=%s\n",
			payload.Signal.Direction,
			payload.Signal.Confidence,
			payload.Signal.Price,
			payload.Signal.Book,
			formatTime(payload.Signal.Time),
		)
		if len(payload.Signal.Contribs) > 0 {
			fmt.Fprintf(w, "Signal contribs: %s\n", strings.Join(payload.Signal.Contribs, ", "))
		}
	}

	if payload.Position == nil {
		fmt.Fprintln(w, "Position: none")
	} else {
		p := payload.Position
		fmt.Fprintf(w, "Position: %s side=%s qty=%.4f entry=%.2f stop=%.2f target=%.2f updated=%s\n",
			p.State, p.Side, p.Quantity, p.EntryPrice, p.StopPrice, p.TargetPrice, formatTime(p.UpdatedAt))
	}

	if payload.Indicators == nil {
		fmt.Fprintln(w, "Indicators: none")
	} else {
		ind := payload.Indicators
		fmt.Fprintf(w,
			"Indicators: close=%.2f EMA=%.2f RSI=%.2f MACD=%.4f/%.4f/%.4f ATR=%.4f ADX=%.2f vol=%.2f updated=%s\n",
			ind.Close, ind.EMA, ind.RSI, ind.MACDLine, ind.MACDSignal, ind.MACDHistogram,
			ind.ATR, ind.ADX, ind.VolumeRatio, formatTime(ind.Time),
		)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}
