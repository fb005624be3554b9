// okx.go implements the OKX v5 adapters: public books5 feed, authenticated
// orders feed, and REST order entry.
//
// OKX sizes swap orders in contracts. The adapters convert at the boundary
// using the configured contract multiplier so the rest of the engine only
// sees coin units.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/go-resty/resty/v2"

	"crossmm/pkg/types"
)

const bookBufferSize = 256

// okxLevel is the wire form of one book level: [price, size, liqOrders, numOrders].
type okxLevel []string

func parseOKXLevels(raw []okxLevel, mult float64) []types.PriceLevel {
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
		out = append(out, types.PriceLevel{Price: price, Size: size * mult})
	}
	return out
}

// okxSign produces the base64 HMAC-SHA256 signature OKX expects for both the
// WS login and REST requests.
func okxSign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ————————————————————————————————————————————————————————————————————————
// Public book feed
// ————————————————————————————————————————————————————————————————————————

// OKXBookFeed streams books5 updates for a set of instruments.
type OKXBookFeed struct {
	session *Session
	symbols []string
	mults   map[string]float64 // venue symbol → contract multiplier
	books   chan types.BookEvent
	logger  *slog.Logger
}

// NewOKXBookFeed subscribes to books5 for symbols. mults maps each symbol to
// its contract multiplier (1.0 for spot).
func NewOKXBookFeed(wsURL string, symbols []string, mults map[string]float64, logger *slog.Logger) *OKXBookFeed {
	f := &OKXBookFeed{
		symbols: symbols,
		mults:   mults,
		books:   make(chan types.BookEvent, bookBufferSize),
		logger:  logger.With("component", "okx_books"),
	}
	f.session = NewSession(wsURL, "okx_public_ws", logger)
	f.session.OnConnect(f.subscribe)
	f.session.OnMessage(f.dispatch)
	f.session.Keepalive(func() []byte { return []byte("ping") })
	return f
}

func (f *OKXBookFeed) Books() <-chan types.BookEvent { return f.books }

func (f *OKXBookFeed) Run(ctx context.Context) error { return f.session.Run(ctx) }

// OnTrouble forwards repeated-disconnect notifications from the session.
func (f *OKXBookFeed) OnTrouble(fn func(err error)) { f.session.OnTrouble(fn) }

func (f *OKXBookFeed) subscribe(ctx context.Context, s *Session) error {
	args := make([]map[string]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		args = append(args, map[string]string{"channel": "books5", "instId": sym})
	}
	return s.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

func (f *OKXBookFeed) dispatch(data []byte) {
	if string(data) == "pong" {
		return
	}

	var msg struct {
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
		Arg   struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			Bids []okxLevel `json:"bids"`
			Asks []okxLevel `json:"asks"`
			TS   string     `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Error("unmarshal book message", "error", err)
		return
	}

	switch msg.Event {
	case "subscribe":
		f.logger.Info("subscribed", "instId", msg.Arg.InstID)
		return
	case "error":
		f.logger.Error("subscription rejected", "code", msg.Code, "msg", msg.Msg)
		return
	}
	if msg.Arg.Channel != "books5" || len(msg.Data) == 0 {
		return
	}

	mult := f.mults[msg.Arg.InstID]
	if mult == 0 {
		mult = 1.0
	}
	for _, d := range msg.Data {
		ts, _ := strconv.ParseInt(d.TS, 10, 64)
		evt := types.BookEvent{
			Venue:  types.VenueOKX,
			Symbol: msg.Arg.InstID,
			Kind:   types.BookSnapshot, // books5 always pushes the full top 5
			TS:     ts,
			Bids:   parseOKXLevels(d.Bids, mult),
			Asks:   parseOKXLevels(d.Asks, mult),
		}
		sendBook(f.books, evt, f.logger)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Private orders feed
// ————————————————————————————————————————————————————————————————————————

// OKXPrivateFeed streams order lifecycle events over the authenticated
// channel. The login handshake is asynchronous: subscribe is deferred until
// the login acknowledgment arrives.
type OKXPrivateFeed struct {
	session    *Session
	apiKey     string
	secretKey  string
	passphrase string
	mults      map[string]float64
	timeSync   *TimeSync
	orders     chan types.OrderEvent
	logger     *slog.Logger
}

func NewOKXPrivateFeed(wsURL, apiKey, secretKey, passphrase string, mults map[string]float64, timeSync *TimeSync, logger *slog.Logger) *OKXPrivateFeed {
	f := &OKXPrivateFeed{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		mults:      mults,
		timeSync:   timeSync,
		orders:     make(chan types.OrderEvent, bookBufferSize),
		logger:     logger.With("component", "okx_orders"),
	}
	f.session = NewSession(wsURL, "okx_private_ws", logger)
	f.session.OnConnect(f.login)
	f.session.OnMessage(f.dispatch)
	f.session.Keepalive(func() []byte { return []byte("ping") })
	return f
}

func (f *OKXPrivateFeed) Orders() <-chan types.OrderEvent { return f.orders }

func (f *OKXPrivateFeed) Run(ctx context.Context) error { return f.session.Run(ctx) }

func (f *OKXPrivateFeed) OnTrouble(fn func(err error)) { f.session.OnTrouble(fn) }

func (f *OKXPrivateFeed) login(ctx context.Context, s *Session) error {
	ts := strconv.FormatInt(f.timeSync.NowMS()/1000, 10)
	sign := okxSign(f.secretKey, ts+"GET"+"/users/self/verify")
	return s.WriteJSON(map[string]interface{}{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     f.apiKey,
			"passphrase": f.passphrase,
			"timestamp":  ts,
			"sign":       sign,
		}},
	})
}

func (f *OKXPrivateFeed) dispatch(data []byte) {
	if string(data) == "pong" {
		return
	}

	var msg struct {
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
		Arg   struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID      string `json:"instId"`
			Side        string `json:"side"`
			FillSz      string `json:"fillSz"`
			AccFillSz   string `json:"accFillSz"`
			FillPx      string `json:"fillPx"`
			Px          string `json:"px"`
			ClOrdID     string `json:"clOrdId"`
			OrdID       string `json:"ordId"`
			State       string `json:"state"`
			UpdatedTime string `json:"uTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Error("unmarshal private message", "error", err)
		return
	}

	switch msg.Event {
	case "login":
		if msg.Code != "0" {
			f.logger.Error("login rejected", "code", msg.Code, "msg", msg.Msg)
			f.session.Close()
			return
		}
		f.logger.Info("logged in, subscribing to orders")
		err := f.session.WriteJSON(map[string]interface{}{
			"op":   "subscribe",
			"args": []map[string]string{{"channel": "orders", "instType": "SWAP"}},
		})
		if err != nil {
			f.logger.Error("subscribe after login failed", "error", err)
		}
		return
	case "subscribe":
		f.logger.Info("subscribed to orders channel")
		return
	case "error":
		f.logger.Error("private channel error", "code", msg.Code, "msg", msg.Msg)
		return
	}
	if msg.Arg.Channel != "orders" {
		return
	}

	for _, d := range msg.Data {
		mult := f.mults[d.InstID]
		if mult == 0 {
			mult = 1.0
		}
		fillSz, _ := strconv.ParseFloat(d.FillSz, 64)
		accFillSz, _ := strconv.ParseFloat(d.AccFillSz, 64)
		price, _ := strconv.ParseFloat(d.FillPx, 64)
		if price == 0 {
			price, _ = strconv.ParseFloat(d.Px, 64)
		}
		ts, _ := strconv.ParseInt(d.UpdatedTime, 10, 64)

		evt := types.OrderEvent{
			Venue:       types.VenueOKX,
			Symbol:      d.InstID,
			Side:        types.Side(d.Side),
			FillSize:    fillSz * mult,
			AccFillSize: accFillSz * mult,
			Price:       price,
			ClientID:    d.ClOrdID,
			OrderID:     d.OrdID,
			Status:      okxStatus(d.State),
			TS:          ts,
		}
		select {
		case f.orders <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "clOrdId", d.ClOrdID)
		}
	}
}

func okxStatus(state string) types.OrderStatus {
	switch state {
	case "live":
		return types.StatusLive
	case "partially_filled":
		return types.StatusPartiallyFilled
	case "filled":
		return types.StatusFilled
	default:
		return types.StatusCanceled
	}
}

// ————————————————————————————————————————————————————————————————————————
// REST order entry
// ————————————————————————————————————————————————————————————————————————

// OKXOrderEntry places, amends and cancels orders over the OKX v5 REST API.
type OKXOrderEntry struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	passphrase string
	mults      map[string]float64
	timeSync   *TimeSync
	limiter    *RateLimiter
	logger     *slog.Logger
}

func NewOKXOrderEntry(baseURL, apiKey, secretKey, passphrase string, mults map[string]float64, timeSync *TimeSync, logger *slog.Logger) *OKXOrderEntry {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(RequestTimeout).
		SetHeader("Content-Type", "application/json")
	return &OKXOrderEntry{
		client:     client,
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		mults:      mults,
		timeSync:   timeSync,
		limiter:    NewRateLimiter(),
		logger:     logger.With("component", "okx_rest"),
	}
}

func (o *OKXOrderEntry) mult(symbol string) float64 {
	if m := o.mults[symbol]; m != 0 {
		return m
	}
	return 1.0
}

// signedRequest performs one authenticated REST call. path must include the
// query string; body is the raw JSON payload (empty for GET).
func (o *OKXOrderEntry) signedRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ts := o.timeSync.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	sign := okxSign(o.secretKey, ts+method+path+string(body))

	req := o.client.R().
		SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", o.apiKey).
		SetHeader("OK-ACCESS-SIGN", sign).
		SetHeader("OK-ACCESS-TIMESTAMP", ts).
		SetHeader("OK-ACCESS-PASSPHRASE", o.passphrase)
	if len(body) > 0 {
		req.SetBody(body)
	}

	var resp *resty.Response
	var err error
	if method == "GET" {
		resp, err = req.Get(path)
	} else {
		resp, err = req.Post(path)
	}
	if err != nil {
		return nil, &APIError{Venue: "okx", Kind: KindTransientNetwork, Msg: err.Error()}
	}
	return resp.Body(), nil
}

// okxTradeResult decodes the common envelope of /api/v5/trade responses, where
// per-order results carry their own sCode.
type okxTradeResult struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	} `json:"data"`
}

func (o *OKXOrderEntry) checkTrade(body []byte) (*okxTradeResult, error) {
	var res okxTradeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &APIError{Venue: "okx", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	if len(res.Data) > 0 && res.Data[0].SCode != "" && res.Data[0].SCode != "0" {
		d := res.Data[0]
		return nil, &APIError{Venue: "okx", Kind: classifyOKX(d.SCode, d.SMsg), Code: d.SCode, Msg: d.SMsg}
	}
	if res.Code != "0" {
		return nil, &APIError{Venue: "okx", Kind: classifyOKX(res.Code, res.Msg), Code: res.Code, Msg: res.Msg}
	}
	return &res, nil
}

func (o *OKXOrderEntry) PlacePostOnly(ctx context.Context, symbol string, side types.Side, price, size float64, clientID string) (types.OrderAck, error) {
	if err := o.limiter.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}
	body, _ := json.Marshal(map[string]string{
		"instId":  symbol,
		"tdMode":  "cross",
		"clOrdId": clientID,
		"side":    string(side),
		"ordType": "post_only",
		"px":      strconv.FormatFloat(price, 'f', -1, 64),
		"sz":      strconv.FormatFloat(size/o.mult(symbol), 'f', -1, 64),
	})
	raw, err := o.signedRequest(ctx, "POST", "/api/v5/trade/order", body)
	if err != nil {
		return types.OrderAck{}, err
	}
	res, err := o.checkTrade(raw)
	if err != nil {
		return types.OrderAck{}, err
	}
	ack := types.OrderAck{ClientID: clientID}
	if len(res.Data) > 0 {
		ack.OrderID = res.Data[0].OrdID
	}
	return ack, nil
}

func (o *OKXOrderEntry) Amend(ctx context.Context, symbol, clientID string, side types.Side, price, size float64) error {
	if err := o.limiter.Amend.Wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{
		"instId":  symbol,
		"clOrdId": clientID,
		"newPx":   strconv.FormatFloat(price, 'f', -1, 64),
		"newSz":   strconv.FormatFloat(size/o.mult(symbol), 'f', -1, 64),
	})
	raw, err := o.signedRequest(ctx, "POST", "/api/v5/trade/amend-order", body)
	if err != nil {
		return err
	}
	_, err = o.checkTrade(raw)
	return err
}

func (o *OKXOrderEntry) Cancel(ctx context.Context, symbol, clientID string) error {
	if err := o.limiter.Cancel.Wait(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{
		"instId":  symbol,
		"clOrdId": clientID,
	})
	raw, err := o.signedRequest(ctx, "POST", "/api/v5/trade/cancel-order", body)
	if err != nil {
		return err
	}
	_, err = o.checkTrade(raw)
	return err
}

func (o *OKXOrderEntry) PlaceMarket(ctx context.Context, symbol string, side types.Side, size float64, clientID string) (types.FillReport, error) {
	if err := o.limiter.Order.Wait(ctx); err != nil {
		return types.FillReport{}, err
	}
	body, _ := json.Marshal(map[string]string{
		"instId":  symbol,
		"tdMode":  "cross",
		"clOrdId": clientID,
		"side":    string(side),
		"ordType": "market",
		"sz":      strconv.FormatFloat(size/o.mult(symbol), 'f', -1, 64),
	})
	raw, err := o.signedRequest(ctx, "POST", "/api/v5/trade/order", body)
	if err != nil {
		return types.FillReport{}, err
	}
	res, err := o.checkTrade(raw)
	if err != nil {
		return types.FillReport{}, err
	}
	rep := types.FillReport{ClientID: clientID, FilledQty: size}
	if len(res.Data) > 0 {
		rep.OrderID = res.Data[0].OrdID
	}
	return rep, nil
}

func (o *OKXOrderEntry) Position(ctx context.Context, symbol string) (float64, error) {
	raw, err := o.signedRequest(ctx, "GET", "/api/v5/account/positions?instId="+symbol, nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Pos     string `json:"pos"`
			PosSide string `json:"posSide"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, &APIError{Venue: "okx", Kind: KindMessageMalformed, Msg: err.Error()}
	}
	if res.Code != "0" {
		return 0, &APIError{Venue: "okx", Kind: classifyOKX(res.Code, res.Msg), Code: res.Code, Msg: res.Msg}
	}
	var total float64
	for _, d := range res.Data {
		pos, _ := strconv.ParseFloat(d.Pos, 64)
		total += pos
	}
	return total * o.mult(symbol), nil
}

var _ BookFeed = (*OKXBookFeed)(nil)
var _ PrivateFeed = (*OKXPrivateFeed)(nil)
var _ OrderEntry = (*OKXOrderEntry)(nil)
