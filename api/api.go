package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trendrider/config"
	"trendrider/internal/constants"
	"trendrider/internal/utils"
	"trendrider/logging"
	"trendrider/models"
)

// Bybit return codes with special handling.
const (
	retOK             = 0
	retDuplicateLink  = 110072
	retOrderNotExists = 110001
	retNotModified    = 34040
)

// retryableCodes are envelope errors that reflect a transient exchange
// condition rather than a refusal.
var retryableCodes = map[int]bool{
	10000: true, // server timeout
	10002: true, // request time exceeds recv window
	10006: true, // rate limit
	10016: true, // internal error
}

// RESTClient provides methods to interact with Bybit REST API
type RESTClient struct {
	Config *config.Config
	Logger logging.LoggerInterface
	HTTP   *http.Client
	Now    func() time.Time

	instr models.InstrumentInfo
}

// NewRESTClient creates a new REST API client
func NewRESTClient(cfg *config.Config, logger logging.LoggerInterface) *RESTClient {
	return &RESTClient{
		Config: cfg,
		Logger: logger,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		Now:    time.Now,
	}
}

// SignREST signs a REST request
func (c *RESTClient) SignREST(secret, timestamp, apiKey, recvWindow, payload string) string {
	base := timestamp + apiKey + recvWindow + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// SetInstrument sets the lot and tick constraints used to format orders.
func (c *RESTClient) SetInstrument(info models.InstrumentInfo) {
	c.instr = info
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// do sends a signed request and decodes the result object into out when the
// envelope reports success. A non-nil error means the exchange never answered
// with an envelope.
func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) (envelope, error) {
	var payload string
	var reader io.Reader
	target := c.Config.DemoRESTHost + path

	if method == http.MethodGet {
		payload = query.Encode()
		if payload != "" {
			target += "?" + payload
		}
		if c.Logger != nil {
			c.Logger.Info("Sending GET request to exchange: %s?%s", path, payload)
		}
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("marshal %s body: %w", path, err)
		}
		payload = string(raw)
		reader = bytes.NewReader(raw)
		if c.Logger != nil {
			c.Logger.Info("Sending POST request to exchange: %s, Body: %s", path, payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("build %s request: %w", path, err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-BAPI-API-KEY", c.Config.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.Config.RecvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", c.SignREST(c.Config.APISecret, ts, c.Config.APIKey, c.Config.RecvWindow, payload))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Error("Failed to send %s request to exchange: %v", method, err)
		}
		return envelope{}, err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("read %s response: %w", path, err)
	}

	if c.Logger != nil {
		c.Logger.Info("Received response from exchange for %s: Status %d, Body: %s", path, resp.StatusCode, string(reply))
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return envelope{}, fmt.Errorf("%s: http status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(reply, &env); err != nil {
		return envelope{}, fmt.Errorf("decode %s response: %w", path, err)
	}
	if env.RetCode == retOK && out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return env, fmt.Errorf("decode %s result: %w", path, err)
		}
	}
	return env, nil
}

func (c *RESTClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *RESTClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func parse(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// dataErr wraps a market-data failure.
func dataErr(what string, env envelope, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrDataUnavailable, what, err)
	}
	return fmt.Errorf("%w: %s: %d: %s", models.ErrDataUnavailable, what, env.RetCode, env.RetMsg)
}

// GetInstrumentInfo fetches instrument information and keeps it for order
// formatting.
func (c *RESTClient) GetInstrumentInfo(ctx context.Context, symbol string) (models.InstrumentInfo, error) {
	q := url.Values{}
	q.Set("category", constants.CategoryLinear)
	q.Set("symbol", symbol)

	var r struct {
		List []struct {
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MinOrderQty      string `json:"minOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, &r)
	if err != nil || env.RetCode != retOK || len(r.List) == 0 {
		if c.Logger != nil {
			c.Logger.Error("Error in instrument info response: %d: %s", env.RetCode, env.RetMsg)
		}
		return models.InstrumentInfo{}, dataErr("instrument info", env, err)
	}

	it := r.List[0]
	tickSize := parse(it.PriceFilter.TickSize)
	if tickSize <= 0 {
		tickSize = 0.1
	}
	info := models.InstrumentInfo{
		MinNotional: parse(it.LotSizeFilter.MinNotionalValue),
		MinQty:      parse(it.LotSizeFilter.MinOrderQty),
		QtyStep:     parse(it.LotSizeFilter.QtyStep),
		TickSize:    tickSize,
	}
	c.instr = info
	return info, nil
}

// GetBalance fetches the available wallet balance
func (c *RESTClient) GetBalance(ctx context.Context, coin string) (float64, error) {
	q := url.Values{}
	q.Set("accountType", c.Config.AccountType)
	q.Set("coin", coin)

	var r struct {
		List []struct {
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalEquity           string `json:"totalEquity"`
		} `json:"list"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, &r)
	if err != nil || env.RetCode != retOK || len(r.List) == 0 {
		if c.Logger != nil {
			c.Logger.Error("Error in balance response: %d: %s", env.RetCode, env.RetMsg)
		}
		return 0, dataErr("wallet balance", env, err)
	}
	return parse(r.List[0].TotalAvailableBalance), nil
}

// GetEquity returns the available balance of the configured coin.
func (c *RESTClient) GetEquity(ctx context.Context) (float64, error) {
	return c.GetBalance(ctx, c.Config.Coin)
}

// GetCandles returns up to count closed candles in ascending time order. The
// candle still forming is dropped.
func (c *RESTClient) GetCandles(ctx context.Context, market, interval string, count int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("category", constants.CategoryLinear)
	q.Set("symbol", market)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(count+1))

	var r struct {
		List [][]string `json:"list"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/market/kline", q, nil, &r)
	if err != nil || env.RetCode != retOK {
		return nil, dataErr("kline", env, err)
	}

	span := intervalDuration(interval)
	now := c.now()
	candles := make([]models.Candle, 0, len(r.List))
	for i := len(r.List) - 1; i >= 0; i-- {
		row := r.List[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: kline row %d has %d fields", models.ErrDataUnavailable, i, len(row))
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: kline start %q: %w", models.ErrDataUnavailable, row[0], err)
		}
		open := time.UnixMilli(startMs).UTC()
		closeTime := open.Add(span - time.Millisecond)
		if closeTime.After(now) {
			continue
		}
		var ohlcv [5]float64
		for j := range ohlcv {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil || v < 0 || (j < 4 && v == 0) {
				return nil, fmt.Errorf("%w: kline %s field %d: bad value %q", models.ErrDataUnavailable, open.Format(time.RFC3339), j+1, row[j+1])
			}
			ohlcv[j] = v
		}
		candles = append(candles, models.Candle{
			Open:      ohlcv[0],
			High:      ohlcv[1],
			Low:       ohlcv[2],
			Close:     ohlcv[3],
			Volume:    ohlcv[4],
			OpenTime:  open,
			CloseTime: closeTime,
		})
	}
	if len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case constants.Day1:
		return 24 * time.Hour
	case "W":
		return 7 * 24 * time.Hour
	case "M":
		return 30 * 24 * time.Hour
	}
	if m, err := strconv.Atoi(interval); err == nil && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return time.Minute
}

// GetOrderBookImbalance sums the sizes of the top depth levels on each side.
func (c *RESTClient) GetOrderBookImbalance(ctx context.Context, market string, depth int) (models.BookImbalance, error) {
	q := url.Values{}
	q.Set("category", constants.CategoryLinear)
	q.Set("symbol", market)
	q.Set("limit", strconv.Itoa(depth))

	var r struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/market/orderbook", q, nil, &r)
	if err != nil || env.RetCode != retOK {
		return models.BookImbalance{}, dataErr("orderbook", env, err)
	}
	return models.BookImbalance{
		BidVolume: sumLevels(r.Bids, depth),
		AskVolume: sumLevels(r.Asks, depth),
	}, nil
}

func sumLevels(levels [][]string, depth int) float64 {
	total := 0.0
	for i, lvl := range levels {
		if depth > 0 && i >= depth {
			break
		}
		if len(lvl) >= 2 {
			total += parse(lvl[1])
		}
	}
	return total
}

// PlaceOrder executes req. ENTRY and CLOSE are market IOC orders keyed by
// orderLinkId; STOP and TARGET set the position trading stop.
func (c *RESTClient) PlaceOrder(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	switch req.Type {
	case models.ExecEntry, models.ExecClose:
		return c.placeMarket(ctx, req)
	case models.ExecStop:
		return c.UpdatePositionTradingStop(ctx, req.Market, 0, req.Price)
	case models.ExecTarget:
		return c.UpdatePositionTradingStop(ctx, req.Market, req.Price, 0)
	case models.ExecCancel:
		return c.CancelOrder(ctx, req)
	}
	return models.ExecutionResult{}, fmt.Errorf("%w: unknown request type %q", models.ErrExecutionRejected, req.Type)
}

func (c *RESTClient) placeMarket(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	side := utils.OrderSide(req.Side)
	if req.Type == models.ExecClose {
		side = utils.CloseSide(req.Side)
	}
	if side == "" {
		return models.ExecutionResult{Status: models.StatusRejected, Message: "invalid side"}, nil
	}

	body := map[string]any{
		"category":    constants.CategoryLinear,
		"symbol":      req.Market,
		"side":        side,
		"orderType":   constants.Market,
		"qty":         utils.FormatQuantityToString(req.Quantity, c.instr.QtyStep),
		"timeInForce": "IOC",
		"orderLinkId": req.ClientID,
		"positionIdx": 0,
	}
	if req.Type == models.ExecClose {
		body["reduceOnly"] = true
	}

	env, err := c.do(ctx, http.MethodPost, "/v5/order/create", nil, body, nil)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("%w: place %s: %w", models.ErrExecutionTransient, req.Type, err)
	}
	switch env.RetCode {
	case retOK:
	case retDuplicateLink:
		if c.Logger != nil {
			c.Logger.Warning("Order %s already placed; querying its state", req.ClientID)
		}
	default:
		if c.Logger != nil {
			c.Logger.Error("API error placing order: %d - %s", env.RetCode, env.RetMsg)
		}
		return classify(env), nil
	}
	return c.QueryOrder(ctx, req.Market, req.ClientID)
}

// QueryOrder reports the state of the order with the given orderLinkId.
func (c *RESTClient) QueryOrder(ctx context.Context, market, linkID string) (models.ExecutionResult, error) {
	q := url.Values{}
	q.Set("category", constants.CategoryLinear)
	q.Set("symbol", market)
	q.Set("orderLinkId", linkID)

	var r struct {
		List []struct {
			OrderID      string `json:"orderId"`
			OrderStatus  string `json:"orderStatus"`
			AvgPrice     string `json:"avgPrice"`
			CumExecQty   string `json:"cumExecQty"`
			RejectReason string `json:"rejectReason"`
		} `json:"list"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/order/realtime", q, nil, &r)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("%w: query order %s: %w", models.ErrExecutionTransient, linkID, err)
	}
	if env.RetCode != retOK {
		return classify(env), nil
	}
	if len(r.List) == 0 {
		return models.ExecutionResult{Status: models.StatusPending, Message: "order not visible yet"}, nil
	}

	o := r.List[0]
	res := models.ExecutionResult{
		ExchangeOrderID: o.OrderID,
		FilledPrice:     parse(o.AvgPrice),
		FilledQuantity:  parse(o.CumExecQty),
		Message:         o.OrderStatus,
	}
	switch o.OrderStatus {
	case "Filled":
		res.Status = models.StatusFilled
	case "PartiallyFilled", "PartiallyFilledCanceled":
		res.Status = models.StatusPartial
	case "New", "Created", "Untriggered", "Triggered":
		res.Status = models.StatusPending
	case "Cancelled", "Deactivated":
		if res.FilledQuantity > 0 {
			res.Status = models.StatusPartial
		} else {
			res.Status = models.StatusRejected
		}
	case "Rejected":
		res.Status = models.StatusRejected
		res.Message = o.RejectReason
	default:
		res.Status = models.StatusError
	}
	return res, nil
}

// UpdatePositionTradingStop sets the take profit and/or stop loss of the
// open position. A zero price leaves that side untouched.
func (c *RESTClient) UpdatePositionTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) (models.ExecutionResult, error) {
	body := map[string]any{
		"category":    constants.CategoryLinear,
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
	}
	if takeProfit > 0 {
		body["takeProfit"] = utils.FormatPriceToString(takeProfit, c.tick())
	}
	if stopLoss > 0 {
		body["stopLoss"] = utils.FormatPriceToString(stopLoss, c.tick())
	}

	env, err := c.do(ctx, http.MethodPost, "/v5/position/trading-stop", nil, body, nil)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("%w: trading stop: %w", models.ErrExecutionTransient, err)
	}
	switch env.RetCode {
	case retOK, retNotModified:
		return models.ExecutionResult{Status: models.StatusPending, Message: env.RetMsg}, nil
	}
	if c.Logger != nil {
		c.Logger.Error("Error in TP/SL update response: %d: %s", env.RetCode, env.RetMsg)
	}
	return classify(env), nil
}

func (c *RESTClient) tick() float64 {
	if c.instr.TickSize > 0 {
		return c.instr.TickSize
	}
	return 0.01
}

// CancelOrder cancels a resting order. A successful cancel, or an order that
// no longer exists, reports FILLED.
func (c *RESTClient) CancelOrder(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	body := map[string]any{
		"category": constants.CategoryLinear,
		"symbol":   req.Market,
		"orderId":  req.OrderID,
	}
	env, err := c.do(ctx, http.MethodPost, "/v5/order/cancel", nil, body, nil)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("%w: cancel %s: %w", models.ErrExecutionTransient, req.OrderID, err)
	}
	switch env.RetCode {
	case retOK, retOrderNotExists:
		return models.ExecutionResult{Status: models.StatusFilled, ExchangeOrderID: req.OrderID, Message: env.RetMsg}, nil
	}
	return classify(env), nil
}

// QueryPosition returns the exchange position for market. An empty list or a
// zero size means flat.
func (c *RESTClient) QueryPosition(ctx context.Context, market string) (models.ExchangePosition, error) {
	q := url.Values{}
	q.Set("category", constants.CategoryLinear)
	q.Set("symbol", market)

	var r struct {
		List []struct {
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	env, err := c.do(ctx, http.MethodGet, "/v5/position/list", q, nil, &r)
	if err != nil {
		return models.ExchangePosition{}, fmt.Errorf("%w: position list: %w", models.ErrExecutionTransient, err)
	}
	if env.RetCode != retOK {
		if c.Logger != nil {
			c.Logger.Error("Error in position list response: %d", env.RetCode)
		}
		return models.ExchangePosition{}, fmt.Errorf("%w: position list: %d: %s", models.ErrExecutionTransient, env.RetCode, env.RetMsg)
	}

	pos := models.ExchangePosition{Market: market}
	for _, p := range r.List {
		if size := parse(p.Size); size > 0 {
			pos.Side = utils.NormalizeSide(p.Side)
			pos.Quantity = size
			pos.AvgPrice = parse(p.AvgPrice)
			break
		}
	}
	return pos, nil
}

func classify(env envelope) models.ExecutionResult {
	msg := fmt.Sprintf("%d: %s", env.RetCode, env.RetMsg)
	if retryableCodes[env.RetCode] {
		return models.ExecutionResult{Status: models.StatusError, Message: msg}
	}
	return models.ExecutionResult{Status: models.StatusRejected, Message: msg}
}
