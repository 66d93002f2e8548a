package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"livefeed/src/model"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	pathScripQuote  = "/ScripDetails/getScripQuoteDetails"
	pathScripSearch = "/ScripDetails/getScripForSearch"
	pathPlaceOrder  = "/placeOrder/executePlaceOrder"

	statOK = "Ok"
)

// ErrNoCredentials is returned by calls that need a venue session when none is configured.
var ErrNoCredentials = fmt.Errorf("%w: venue credentials not configured", model.ErrAuthentication)

// Quote is one REST snapshot of an instrument.
type Quote struct {
	LastPrice    float64
	Bid          float64
	Ask          float64
	Volume       float64
	OpenInterest float64
	Close        float64
	Open         float64
	High         float64
	Low          float64
}

// OrderRequest is a market order forwarded to the broker.
type OrderRequest struct {
	Instrument model.Instrument
	Side       string
	Quantity   int
	Price      float64
	Tag        string
}

// RestClient talks to the venue REST API.
type RestClient struct {
	log  *logrus.Entry
	cfg  Config
	http *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewRestClient(logger *logrus.Entry, cfg Config) *RestClient {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.RESTTimeout <= 0 {
		cfg.RESTTimeout = 15 * time.Second
	}
	retryCount := cfg.RetryAttempts - 1
	if retryCount < 0 {
		retryCount = 0
	}

	httpClient := resty.New().
		SetBaseURL(cfg.RESTURL).
		SetTimeout(cfg.RESTTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp).
		SetHeader("Content-Type", "application/json")

	return &RestClient{log: logger, cfg: cfg, http: httpClient}
}

// HasCredentials reports whether authenticated calls can be made.
func (c *RestClient) HasCredentials() bool {
	return c.cfg.HasCredentials()
}

func (c *RestClient) authorized(ctx context.Context) (*resty.Request, error) {
	if !c.cfg.HasCredentials() {
		return nil, ErrNoCredentials
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.UserID + " " + c.cfg.SessionID), nil
}

type quoteResponse struct {
	Stat  string      `json:"stat"`
	Emsg  string      `json:"emsg"`
	LTP   *wireString `json:"LTP"`
	Bid   wireNumber  `json:"bp1"`
	Ask   wireNumber  `json:"sp1"`
	Vol   wireNumber  `json:"v"`
	OI    wireNumber  `json:"oi"`
	Close wireNumber  `json:"c"`
	Open  wireNumber  `json:"o"`
	High  wireNumber  `json:"h"`
	Low   wireNumber  `json:"l"`
}

// Snapshot fetches the current quote. A nil quote with nil error means the
// venue has no data yet (LTP missing, empty or zero).
func (c *RestClient) Snapshot(ctx context.Context, inst model.Instrument) (*Quote, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}

	var out quoteResponse
	resp, err := req.
		SetBody(map[string]string{"exch": inst.Exchange, "symbol": inst.Token}).
		SetResult(&out).
		Post(pathScripQuote)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %v", model.ErrConnection, inst.Name, err)
	}
	if resp.IsError() {
		return nil, httpStatusError(resp)
	}
	if out.Stat != statOK {
		return nil, ClassifyVenueError(out.Emsg)
	}
	if out.LTP == nil {
		return nil, nil
	}
	ltp, err := parseLTP(string(*out.LTP))
	if err != nil || ltp <= 0 {
		return nil, nil
	}
	return &Quote{
		LastPrice:    ltp,
		Bid:          float64(out.Bid),
		Ask:          float64(out.Ask),
		Volume:       float64(out.Vol),
		OpenInterest: float64(out.OI),
		Close:        float64(out.Close),
		Open:         float64(out.Open),
		High:         float64(out.High),
		Low:          float64(out.Low),
	}, nil
}

type scripResult struct {
	Exchange       string     `json:"exch"`
	Token          wireString `json:"token"`
	Symbol         string     `json:"symbol"`
	TradingSymbol  string     `json:"trading_symbol"`
	Name           string     `json:"formatted_ins_name"`
	InstrumentType string     `json:"instrument_type"`
	OptionType     string     `json:"option_type"`
	LotSize        wireNumber `json:"lot_size"`
	Expiry         wireNumber `json:"expiry_date"`
}

func (s scripResult) toContract() model.Contract {
	c := model.Contract{
		Exchange:       s.Exchange,
		Token:          string(s.Token),
		Symbol:         s.Symbol,
		TradingSymbol:  s.TradingSymbol,
		Name:           s.Name,
		InstrumentType: s.InstrumentType,
		OptionType:     s.OptionType,
		LotSize:        int(s.LotSize),
	}
	if s.Expiry > 0 {
		e := time.UnixMilli(int64(s.Expiry)).UTC()
		c.Expiry = &e
	}
	return c
}

// SearchScrip is the venue generic-symbol lookup.
func (c *RestClient) SearchScrip(ctx context.Context, exchange, symbol string) ([]model.Contract, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}

	var out []scripResult
	resp, err := req.
		SetBody(map[string]any{"symbol": symbol, "exchange": []string{exchange}}).
		SetResult(&out).
		Post(pathScripSearch)
	if err != nil {
		return nil, fmt.Errorf("%w: scrip search %s: %v", model.ErrConnection, symbol, err)
	}
	if resp.IsError() {
		return nil, httpStatusError(resp)
	}

	contracts := make([]model.Contract, 0, len(out))
	for _, s := range out {
		contracts = append(contracts, s.toContract())
	}
	return contracts, nil
}

// ContractMaster downloads the contract master of one exchange.
func (c *RestClient) ContractMaster(ctx context.Context, exchange string) ([]model.Contract, error) {
	var out map[string][]scripResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("exch", exchange).
		SetResult(&out).
		Get(c.cfg.ContractURL)
	if err != nil {
		return nil, fmt.Errorf("%w: contract master %s: %v", model.ErrConnection, exchange, err)
	}
	if resp.IsError() {
		return nil, httpStatusError(resp)
	}

	var contracts []model.Contract
	for exch, rows := range out {
		for _, s := range rows {
			ct := s.toContract()
			if ct.Exchange == "" {
				ct.Exchange = exch
			}
			contracts = append(contracts, ct)
		}
	}
	return contracts, nil
}

type placeOrderItem struct {
	Complexty     string `json:"complexty"`
	DiscQty       string `json:"discqty"`
	Exch          string `json:"exch"`
	PCode         string `json:"pCode"`
	PrcType       string `json:"prctyp"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	Ret           string `json:"ret"`
	SymbolID      string `json:"symbol_id"`
	TradingSymbol string `json:"trading_symbol"`
	TransType     string `json:"transtype"`
	TrigPrice     string `json:"trigPrice"`
	OrderTag      string `json:"orderTag"`
}

type placeOrderResult struct {
	Stat    string `json:"stat"`
	OrderNo string `json:"NOrdNo"`
	Emsg    string `json:"emsg"`
}

// PlaceOrder sends a market order and returns the venue order number.
func (c *RestClient) PlaceOrder(ctx context.Context, o OrderRequest) (string, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return "", err
	}
	if o.Quantity <= 0 {
		return "", errors.New("order quantity must be positive")
	}
	tag := o.Tag
	if tag == "" {
		tag = uuid.NewString()
	}
	side := "BUY"
	if strings.EqualFold(o.Side, model.DirectionShort) || strings.EqualFold(o.Side, "SELL") {
		side = "SELL"
	}

	item := placeOrderItem{
		Complexty:     "regular",
		DiscQty:       "0",
		Exch:          o.Instrument.Exchange,
		PCode:         "MIS",
		PrcType:       "MKT",
		Price:         "0",
		Qty:           fmt.Sprintf("%d", o.Quantity),
		Ret:           "DAY",
		SymbolID:      o.Instrument.Token,
		TradingSymbol: o.Instrument.TradingSymbol,
		TransType:     side,
		TrigPrice:     "",
		OrderTag:      tag,
	}

	var out []placeOrderResult
	resp, err := req.
		SetBody([]placeOrderItem{item}).
		SetResult(&out).
		Post(pathPlaceOrder)
	if err != nil {
		return "", fmt.Errorf("%w: place order: %v", model.ErrConnection, err)
	}
	if resp.IsError() {
		return "", httpStatusError(resp)
	}
	if len(out) == 0 {
		return "", errors.New("empty place order response")
	}
	if out[0].Stat != statOK {
		return "", ClassifyVenueError(out[0].Emsg)
	}
	c.log.WithFields(logrus.Fields{
		"instrument": o.Instrument.Name,
		"order_no":   out[0].OrderNo,
		"tag":        tag,
	}).Info("order placed")
	return out[0].OrderNo, nil
}

func parseLTP(s string) (float64, error) {
	var n wireNumber
	if err := n.UnmarshalJSON([]byte(`"` + strings.TrimSpace(s) + `"`)); err != nil {
		return 0, err
	}
	return float64(n), nil
}

func httpStatusError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code == 401 || code == 403 {
		return fmt.Errorf("%w: http %d", model.ErrAuthentication, code)
	}
	return fmt.Errorf("%w: http %d: %s", model.ErrConnection, code, strings.TrimSpace(resp.String()))
}
