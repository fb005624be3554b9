// bybit.go implements the Bybit v5 adapters: public linear order-book feed
// (snapshot + delta), authenticated order feed, and REST order entry.
//
// Bybit linear contracts are sized in coin units already, so no contract
// conversion is needed.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"crossmm/pkg/types"
)

// hmacSHA256Hex produces the hex HMAC-SHA256 signature Bybit and Binance
// both use for WS auth and REST requests.
func hmacSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// ————————————————————————————————————————————————————————————————————————
// Public book feed
// ————————————————————————————————————————————————————————————————————————

// BybitBookFeed streams orderbook.{depth} updates. Bybit sends one full
// snapshot on subscribe and deltas afterwards; a zero size in a delta removes
// the level.
type BybitBookFeed struct {
	session *Session
	symbols []string
	depth   int
	books   chan types.BookEvent
	logger  *slog.Logger
}

// bybitStreamDepth snaps a requested depth to the fixed depths the linear
// orderbook stream comes in. Anything beyond the wanted depth is truncated by
// the assembler.
func bybitStreamDepth(depth int) int {
	for _, d := range []int{1, 50, 200, 500} {
		if depth <= d {
			return d
		}
	}
	return 500
}

func NewBybitBookFeed(wsURL string, symbols []string, depth int, logger *slog.Logger) *BybitBookFeed {
	if depth <= 0 {
		depth = 50
	}
	f := &BybitBookFeed{
		symbols: symbols,
		depth:   bybitStreamDepth(depth),
		books:   make(chan types.BookEvent, bookBufferSize),
		logger:  logger.With("component", "bybit_books"),
	}
	f.session = NewSession(wsURL, "bybit_public_ws", logger)
	f.session.OnConnect(f.subscribe)
	f.session.OnMessage(f.dispatch)
	f.session.Keepalive(func() []byte { return []byte(`{"op":"ping"}`) })
	return f
}

func (f *BybitBookFeed) Books() <-chan types.BookEvent { return f.books }

func (f *BybitBookFeed) Run(ctx context.Context) error { return f.session.Run(ctx) }

func (f *BybitBookFeed) OnTrouble(fn func(err error)) { f.session.OnTrouble(fn) }

func (f *BybitBookFeed) subscribe(ctx context.Context, s *Session) error {
	args := make([]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		args = append(args, "orderbook."+strconv.Itoa(f.depth)+"."+sym)
	}
	return s.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

func parseLevels(raw [][]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(lv[0], 64)
		size, err2 := strconv.ParseFloat(lv[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

func (f *BybitBookFeed) dispatch(data []byte) {
	var msg struct {
		Op      string `json:"op"`
		Success *bool  `json:"success"`
		RetMsg  string `json:"ret_msg"`
		Topic   string `json:"topic"`
		Type    string `json:"type"`
		TS      int64  `json:"ts"`
		Data    struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Error("unmarshal book message", "error", err)
		return
	}

	if msg.Success != nil {
		if !*msg.Success {
			f.logger.Error("operation rejected", "op", msg.Op, "msg", msg.RetMsg)
		}
		return
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") {
		return
	}

	kind := types.BookDelta
	if msg.Type == "snapshot" {
		kind = types.BookSnapshot
	}
	evt := types.BookEvent{
		Venue:  types.VenueBybit,
		Symbol: msg.Data.Symbol,
		Kind:   kind,
		TS:     msg.TS,
		Bids:   parseLevels(msg.Data.Bids),
		Asks:   parseLevels(msg.Data.Asks),
	}
	sendBook(f.books, evt, f.logger)
}

// ————————————————————————————————————————————————————————————————————————
// Private orders feed
// ————————————————————————————————————————————————————————————————————————

// BybitPrivateFeed streams order updates over the authenticated stream.
type BybitPrivateFeed struct {
	session   *Session
	apiKey    string
	secretKey string
	timeSync  *TimeSync
	orders    chan types.OrderEvent
	logger    *slog.Logger
}

func NewBybitPrivateFeed(wsURL, apiKey, secretKey string, timeSync *TimeSync, logger *slog.Logger) *BybitPrivateFeed {
	f := &BybitPrivateFeed{
		apiKey:    apiKey,
		secretKey: secretKey,
		timeSync:  timeSync,
		orders:    make(chan types.OrderEvent, bookBufferSize),
		logger:    logger.With("component", "bybit_orders"),
	}
	f.session = NewSession(wsURL, "bybit_private_ws", logger)
	f.session.OnConnect(f.auth)
	f.session.OnMessage(f.dispatch)
	f.session.Keepalive(func() []byte { return []byte(`{"op":"ping"}`) })
	return f
}

func (f *BybitPrivateFeed) Orders() <-chan types.OrderEvent { return f.orders }

func (f *BybitPrivateFeed) Run(ctx context.Context) error { return f.session.Run(ctx) }

func (f *BybitPrivateFeed) OnTrouble(fn func(err error)) { f.session.OnTrouble(fn) }

func (f *BybitPrivateFeed) auth(ctx context.Context, s *Session) error {
	expires := f.timeSync.NowMS() + (10 * time.Second).Milliseconds()
	sign := hmacSHA256Hex(f.secretKey, "GET/realtime"+strconv.FormatInt(expires, 10))
	if err := s.WriteJSON(map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{f.apiKey, expires, sign},
	}); err != nil {
		return err
	}
	return s.WriteJSON(map[string]interface{}{"op": "subscribe", "args": []string{"order"}})
}

func (f *BybitPrivateFeed) dispatch(data []byte) {
	var msg struct {
		Op      string `json:"op"`
		Success *bool  `json:"success"`
		RetMsg  string `json:"ret_msg"`
		Topic   string `json:"topic"`
		Data    []struct {
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			Price       string `json:"price"`
			AvgPrice    string `json:"avgPrice"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Error("unmarshal private message", "error", err)
		return
	}

	if msg.Success != nil {
		if !*msg.Success {
			f.logger.Error("operation rejected", "op", msg.Op, "msg", msg.RetMsg)
		}
		return
	}
	if msg.Topic != "order" {
		return
	}

	for _, d := range msg.Data {
		acc, _ := strconv.ParseFloat(d.CumExecQty, 64)
		price, _ := strconv.ParseFloat(d.AvgPrice, 64)
		if price == 0 {
			price, _ = strconv.ParseFloat(d.Price, 64)
		}
		ts, _ := strconv.ParseInt(d.UpdatedTime, 10, 64)

		evt := types.OrderEvent{
			Venue:       types.VenueBybit,
			Symbol:      d.Symbol,
			Side:        types.Side(strings.ToLower(d.Side)),
			AccFillSize: acc,
			Price:       price,
			ClientID:    d.OrderLinkID,
			OrderID:     d.OrderID,
			Status:      bybitStatus(d.OrderStatus),
			TS:          ts,
		}
		select {
		case f.orders <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "orderLinkId", d.OrderLinkID)
		}
	}
}

func bybitStatus(s string) types.OrderStatus {
	switch s {
	case "New":
		return types.StatusLive
	case "PartiallyFilled":
		return types.StatusPartiallyFilled
	case "Filled":
		return types.StatusFilled
	default:
		return types.StatusCanceled
	}
}

// ————————————————————————————————————————————————————————————————————————
// REST order entry
// ————————————————————————————————————————————————————————————————————————

// BybitOrderEntry places, amends and cancels linear orders over the v5 REST API.
type BybitOrderEntry struct {
	client       *resty.Client
	apiKey       string
	secretKey    string
	recvWindowMS int
	timeSync     *TimeSync
	limiter      *RateLimiter
	logger       *slog.Logger
}

func NewBybitOrderEntry(baseURL, apiKey, secretKey string, recvWindowMS int, timeSync *TimeSync, logger *slog.Logger) *BybitOrderEntry {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(RequestTimeout).
		SetHeader("Content-Type", "application/json")
	return &BybitOrderEntry{
		client:       client,
		apiKey:       apiKey,
		secretKey:    secretKey,
		recvWindowMS: recvWindowMS,
		timeSync:     timeSync,
		limiter:      NewRateLimiter(),
		logger:       logger.With("component", "bybit_rest"),
	}
}

// signedPost performs one authenticated POST. The signature covers
// timestamp + apiKey + recvWindow + body.
func (b *BybitOrderEntry) signedPost(ctx context.Context, path string, body []byte) ([]byte, error) {
	ts := strconv.FormatInt(b.timeSync.NowMS(), 10)
	recv := strconv.Itoa(b.recvWindowMS)
	sign := hmacSHA256Hex(b.secretKey, ts+b.apiKey+recv+string(body))

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", b.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", recv).
		SetHeader("X-BAPI-SIGN", sign).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, &APIError{Venue: "bybit", Kind: KindTransientNetwork, Msg: err.Error()}
	}
	return resp.Body(), nil
}

// signedGet performs one authenticated GET; the signature covers the raw
// query string instead of a body.
func (b *BybitOrderEntry) signedGet(ctx context.Context, path, query string) ([]byte, error) {
	ts := strconv.FormatInt(b.timeSync.NowMS(), 10)
	recv := strconv.Itoa(b.recvWindowMS)
	sign := hmacSHA256Hex(b.secretKey, ts+b.apiKey+recv+query)

	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", b.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", recv).
		SetHeader("X-BAPI-SIGN", sign).
		Get(path + "?" + query)
	if err != nil {
		return nil, &APIError{Venue: "bybit", Kind: KindTransientNetwork, Msg: err.Error()}
	}
	return resp.Body(), nil
}

type bybitResult struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		List        []struct {
			Size string `json:"size"`
			Side string `json:"side"`
		} `json:"list"`
	} `json:"result"`
}

func checkBybit(body []byte) (*bybitResult, error) {
	var res bybitResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &APIError{Venue: "bybit", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	if res.RetCode != 0 {
		code := strconv.Itoa(res.RetCode)
		return nil, &APIError{Venue: "bybit", Kind: classifyBybit(code, res.RetMsg), Code: code, Msg: res.RetMsg}
	}
	return &res, nil
}

func bybitSide(s types.Side) string {
	if s == types.Buy {
		return "Buy"
	}
	return "Sell"
}

func (b *BybitOrderEntry) PlacePostOnly(ctx context.Context, symbol string, side types.Side, price, size float64, clientID string) (types.OrderAck, error) {
	if err := b.limiter.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}
	body, _ := json.Marshal(map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        bybitSide(side),
		"orderType":   "Limit",
		"qty":         strconv.FormatFloat(size, 'f', -1, 64),
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
		"timeInForce": "PostOnly",
		"orderLinkId": clientID,
	})
	raw, err := b.signedPost(ctx, "/v5/order/create", body)
	if err != nil {
		return types.OrderAck{}, err
	}
	res, err := checkBybit(raw)
	if err != nil {
		return types.OrderAck{}, err
	}
	return types.OrderAck{OrderID: res.Result.OrderID, ClientID: clientID}, nil
}

func (b *BybitOrderEntry) Amend(ctx context.Context, symbol, clientID string, side types.Side, price, size float64) error {
	if err := b.limiter.Amend.Wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": clientID,
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
		"qty":         strconv.FormatFloat(size, 'f', -1, 64),
	})
	raw, err := b.signedPost(ctx, "/v5/order/amend", body)
	if err != nil {
		return err
	}
	_, err = checkBybit(raw)
	return err
}

func (b *BybitOrderEntry) Cancel(ctx context.Context, symbol, clientID string) error {
	if err := b.limiter.Cancel.Wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": clientID,
	})
	raw, err := b.signedPost(ctx, "/v5/order/cancel", body)
	if err != nil {
		return err
	}
	_, err = checkBybit(raw)
	return err
}

func (b *BybitOrderEntry) PlaceMarket(ctx context.Context, symbol string, side types.Side, size float64, clientID string) (types.FillReport, error) {
	if err := b.limiter.Order.Wait(ctx); err != nil {
		return types.FillReport{}, err
	}
	body, _ := json.Marshal(map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        bybitSide(side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(size, 'f', -1, 64),
		"timeInForce": "IOC",
		"orderLinkId": clientID,
	})
	raw, err := b.signedPost(ctx, "/v5/order/create", body)
	if err != nil {
		return types.FillReport{}, err
	}
	res, err := checkBybit(raw)
	if err != nil {
		return types.FillReport{}, err
	}
	return types.FillReport{OrderID: res.Result.OrderID, ClientID: clientID, FilledQty: size}, nil
}

func (b *BybitOrderEntry) Position(ctx context.Context, symbol string) (float64, error) {
	raw, err := b.signedGet(ctx, "/v5/position/list", "category=linear&symbol="+symbol)
	if err != nil {
		return 0, err
	}
	res, err := checkBybit(raw)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range res.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if p.Side == "Sell" {
			size = -size
		}
		total += size
	}
	return total, nil
}

var _ BookFeed = (*BybitBookFeed)(nil)
var _ PrivateFeed = (*BybitPrivateFeed)(nil)
var _ OrderEntry = (*BybitOrderEntry)(nil)
