// binance.go implements the Binance USD-M futures adapters: combined-stream
// partial book feed and REST order entry with signed query strings.
//
// Binance signs the raw query string with hex HMAC-SHA256 and rejects
// timestamps outside recvWindow, so order entry takes a TimeSync to keep
// request timestamps aligned with the server clock.
package venue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"crossmm/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Public book feed
// ————————————————————————————————————————————————————————————————————————

// BinanceBookFeed streams <symbol>@depth5@100ms partial book updates over the
// combined stream endpoint. Every update is a full top-5 snapshot.
type BinanceBookFeed struct {
	session *Session
	books   chan types.BookEvent
	logger  *slog.Logger
}

// NewBinanceBookFeed builds the combined-stream URL from baseURL (the
// /stream endpoint) and the symbol list.
func NewBinanceBookFeed(baseURL string, symbols []string, logger *slog.Logger) *BinanceBookFeed {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@depth5@100ms")
	}
	wsURL := baseURL + "?streams=" + strings.Join(streams, "/")

	f := &BinanceBookFeed{
		books:  make(chan types.BookEvent, bookBufferSize),
		logger: logger.With("component", "binance_books"),
	}
	f.session = NewSession(wsURL, "binance_public_ws", logger)
	f.session.OnMessage(f.dispatch)
	// Binance sends protocol-level pings; the default pong handler answers
	// them, so no application keepalive is needed.
	return f
}

func (f *BinanceBookFeed) Books() <-chan types.BookEvent { return f.books }

func (f *BinanceBookFeed) Run(ctx context.Context) error { return f.session.Run(ctx) }

func (f *BinanceBookFeed) OnTrouble(fn func(err error)) { f.session.OnTrouble(fn) }

func (f *BinanceBookFeed) dispatch(data []byte) {
	var msg struct {
		Stream string `json:"stream"`
		Data   struct {
			Event     string     `json:"e"`
			TradeTime int64      `json:"T"`
			EventTime int64      `json:"E"`
			Symbol    string     `json:"s"`
			Bids      [][]string `json:"b"`
			Asks      [][]string `json:"a"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Error("unmarshal book message", "error", err)
		return
	}
	if msg.Data.Symbol == "" {
		return
	}

	ts := msg.Data.TradeTime
	if ts == 0 {
		ts = msg.Data.EventTime
	}
	evt := types.BookEvent{
		Venue:  types.VenueBinance,
		Symbol: msg.Data.Symbol,
		Kind:   types.BookSnapshot,
		TS:     ts,
		Bids:   parseLevels(msg.Data.Bids),
		Asks:   parseLevels(msg.Data.Asks),
	}
	sendBook(f.books, evt, f.logger)
}

// ————————————————————————————————————————————————————————————————————————
// REST order entry
// ————————————————————————————————————————————————————————————————————————

// BinanceOrderEntry places and cancels USD-M futures orders.
type BinanceOrderEntry struct {
	client       *resty.Client
	apiKey       string
	secretKey    string
	recvWindowMS int
	timeSync     *TimeSync
	limiter      *RateLimiter
	logger       *slog.Logger
}

// NewBinanceOrderEntry creates the REST client. timeSync may be nil, in which
// case the local clock is used directly.
func NewBinanceOrderEntry(baseURL, apiKey, secretKey string, recvWindowMS int, timeSync *TimeSync, logger *slog.Logger) *BinanceOrderEntry {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(RequestTimeout).
		SetHeader("X-MBX-APIKEY", apiKey)
	return &BinanceOrderEntry{
		client:       client,
		apiKey:       apiKey,
		secretKey:    secretKey,
		recvWindowMS: recvWindowMS,
		timeSync:     timeSync,
		limiter:      NewRateLimiter(),
		logger:       logger.With("component", "binance_rest"),
	}
}

// signedCall appends timestamp, recvWindow and signature to params and
// performs the request.
func (b *BinanceOrderEntry) signedCall(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(b.timeSync.NowMS(), 10))
	params.Set("recvWindow", strconv.Itoa(b.recvWindowMS))
	query := params.Encode()
	query += "&signature=" + hmacSHA256Hex(b.secretKey, query)

	req := b.client.R().SetContext(ctx)
	var resp *resty.Response
	var err error
	switch method {
	case "GET":
		resp, err = req.Get(path + "?" + query)
	case "DELETE":
		resp, err = req.Delete(path + "?" + query)
	case "PUT":
		resp, err = req.Put(path + "?" + query)
	default:
		resp, err = req.Post(path + "?" + query)
	}
	if err != nil {
		return nil, &APIError{Venue: "binance", Kind: KindTransientNetwork, Msg: err.Error()}
	}
	if resp.IsError() {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		code, msg := "", resp.String()
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Code != 0 {
			code, msg = strconv.Itoa(apiErr.Code), apiErr.Msg
		}
		return nil, &APIError{Venue: "binance", Kind: classifyBinance(code, msg), Code: code, Msg: msg}
	}
	return resp.Body(), nil
}

func binanceSide(s types.Side) string {
	if s == types.Buy {
		return "BUY"
	}
	return "SELL"
}

type binanceOrderResult struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func (b *BinanceOrderEntry) PlacePostOnly(ctx context.Context, symbol string, side types.Side, price, size float64, clientID string) (types.OrderAck, error) {
	if err := b.limiter.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", binanceSide(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTX") // post-only
	params.Set("quantity", strconv.FormatFloat(size, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("newClientOrderId", clientID)

	raw, err := b.signedCall(ctx, "POST", "/fapi/v1/order", params)
	if err != nil {
		return types.OrderAck{}, err
	}
	var res binanceOrderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.OrderAck{}, &APIError{Venue: "binance", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	return types.OrderAck{OrderID: strconv.FormatInt(res.OrderID, 10), ClientID: clientID}, nil
}

func (b *BinanceOrderEntry) Amend(ctx context.Context, symbol, clientID string, side types.Side, price, size float64) error {
	if err := b.limiter.Amend.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientID)
	params.Set("side", binanceSide(side))
	params.Set("quantity", strconv.FormatFloat(size, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	_, err := b.signedCall(ctx, "PUT", "/fapi/v1/order", params)
	return err
}

func (b *BinanceOrderEntry) Cancel(ctx context.Context, symbol, clientID string) error {
	if err := b.limiter.Cancel.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientID)
	_, err := b.signedCall(ctx, "DELETE", "/fapi/v1/order", params)
	return err
}

func (b *BinanceOrderEntry) PlaceMarket(ctx context.Context, symbol string, side types.Side, size float64, clientID string) (types.FillReport, error) {
	if err := b.limiter.Order.Wait(ctx); err != nil {
		return types.FillReport{}, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", binanceSide(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(size, 'f', -1, 64))
	params.Set("newClientOrderId", clientID)

	raw, err := b.signedCall(ctx, "POST", "/fapi/v1/order", params)
	if err != nil {
		return types.FillReport{}, err
	}
	var res binanceOrderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.FillReport{}, &APIError{Venue: "binance", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	filled, _ := strconv.ParseFloat(res.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(res.AvgPrice, 64)
	return types.FillReport{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		ClientID:  clientID,
		FilledQty: filled,
		AvgPrice:  avg,
	}, nil
}

func (b *BinanceOrderEntry) Position(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := b.signedCall(ctx, "GET", "/fapi/v2/positionRisk", params)
	if err != nil {
		return 0, err
	}
	var res []struct {
		PositionAmt string `json:"positionAmt"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, &APIError{Venue: "binance", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	var total float64
	for _, p := range res {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		total += amt
	}
	return total, nil
}

var _ BookFeed = (*BinanceBookFeed)(nil)
var _ OrderEntry = (*BinanceOrderEntry)(nil)
