package exchange

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"perptrader/internal/model"
)

// Binance USD-M futures stream endpoints.
const (
	MainnetWSURL = "wss://fstream.binance.com/ws"
	TestnetWSURL = "wss://stream.binancefuture.com/ws"
)

// BarStream subscribes to a kline stream and emits a Bar whenever a candle
// closes, giving the orchestrator an event-driven bar-close trigger instead
// of polling. Reconnects with backoff on failure.
type BarStream struct {
	url       string
	symbol    string
	timeframe string

	readTimeout time.Duration

	// OnReconnect is an optional metrics hook.
	OnReconnect func()
}

// NewBarStream creates a kline stream for one symbol and timeframe
// (e.g. "ETHUSDT", "1h").
func NewBarStream(wsURL, symbol, timeframe string) *BarStream {
	return &BarStream{
		url:         wsURL,
		symbol:      symbol,
		timeframe:   timeframe,
		readTimeout: 90 * time.Second,
	}
}

// klineEvent is the Binance kline payload. K.Closed flips to true exactly
// once per bar, on the final update for that bucket.
type klineEvent struct {
	Event string `json:"e"`
	K     struct {
		StartMs int64  `json:"t"`
		Open    string `json:"o"`
		High    string `json:"h"`
		Low     string `json:"l"`
		Close   string `json:"c"`
		Volume  string `json:"v"`
		Closed  bool   `json:"x"`
	} `json:"k"`
}

// Run streams closed bars into barCh until ctx is cancelled. Connection
// failures are retried with exponential backoff; barCh is never closed by
// Run so the consumer can share it across reconnects.
func (s *BarStream) Run(ctx context.Context, barCh chan<- model.Bar) {
	backoff := time.Second
	for {
		if err := s.stream(ctx, barCh); err != nil {
			log.Printf("[ws] stream error: %v (reconnecting in %s)", err, backoff)
		}
		if ctx.Err() != nil {
			return
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *BarStream) stream(ctx context.Context, barCh chan<- model.Bar) error {
	streamURL := s.url + "/" + strings.ToLower(s.symbol) + "@kline_" + s.timeframe
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[ws] connected to %s", streamURL)

	// Unblock the read loop when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var ev klineEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "kline" {
			continue
		}
		if !ev.K.Closed {
			continue
		}

		bar, err := s.parseBar(ev)
		if err != nil {
			log.Printf("[ws] bad kline payload: %v", err)
			continue
		}
		select {
		case barCh <- bar:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *BarStream) parseBar(ev klineEvent) (model.Bar, error) {
	var bar model.Bar
	var err error
	if bar.Open, err = strconv.ParseFloat(ev.K.Open, 64); err != nil {
		return bar, err
	}
	if bar.High, err = strconv.ParseFloat(ev.K.High, 64); err != nil {
		return bar, err
	}
	if bar.Low, err = strconv.ParseFloat(ev.K.Low, 64); err != nil {
		return bar, err
	}
	if bar.Close, err = strconv.ParseFloat(ev.K.Close, 64); err != nil {
		return bar, err
	}
	if bar.Volume, err = strconv.ParseFloat(ev.K.Volume, 64); err != nil {
		return bar, err
	}
	bar.Symbol = s.symbol
	bar.TS = time.UnixMilli(ev.K.StartMs).UTC()
	return bar, nil
}
