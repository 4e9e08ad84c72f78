package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
)

// ErrBadQuote is returned when a collaborator answers without a usable price.
var ErrBadQuote = errors.New("quote missing or invalid")

func validPrice(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 }

// #region crypto

type asset struct {
	keyword string
	symbol  string
	name    string
	unit    string
}

var cryptoAssets = []asset{
	{"bitcoin", "BTCUSDT", "Bitcoin (BTC)", "USD"},
	{"btc", "BTCUSDT", "Bitcoin (BTC)", "USD"},
	{"ethereum", "ETHUSDT", "Ethereum (ETH)", "USD"},
	{"solana", "SOLUSDT", "Solana (SOL)", "USD"},
	{"dogecoin", "DOGEUSDT", "Dogecoin (DOGE)", "USD"},
	{"cardano", "ADAUSDT", "Cardano (ADA)", "USD"},
	{"ripple", "XRPUSDT", "XRP", "USD"},
	{"xrp", "XRPUSDT", "XRP", "USD"},
	{"bnb", "BNBUSDT", "BNB", "USD"},
	{"cripto", "BTCUSDT", "Bitcoin (BTC)", "USD"},
}

func assetKeywords(list []asset) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.keyword
	}
	return out
}

func pickAsset(lower string, list []asset) (asset, bool) {
	for _, a := range list {
		if strings.Contains(lower, a.keyword) {
			return a, true
		}
	}
	return asset{}, false
}

// Crypto quotes a coin against USDT on Binance.
type Crypto struct {
	keywords
	base    string
	fetcher *fetch.Fetcher
}

// NewCrypto creates the crypto price enricher.
func NewCrypto(base string, f *fetch.Fetcher) *Crypto {
	return &Crypto{
		keywords: keywords{name: "crypto", group: GroupPrice, words: assetKeywords(cryptoAssets)},
		base:     strings.TrimRight(base, "/"),
		fetcher:  f,
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (c *Crypto) Enrich(ctx context.Context, u conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	a, ok := pickAsset(u.Lower, cryptoAssets)
	if !ok {
		return nil, nil
	}
	var t tickerPrice
	if err := c.fetcher.GetJSONCached(ctx, c.base+"/api/v3/ticker/price?symbol="+a.symbol, nil, &t); err != nil {
		return nil, fmt.Errorf("binance %s: %w", a.symbol, err)
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil || !validPrice(price) {
		return nil, fmt.Errorf("binance %s price %q: %w", a.symbol, t.Price, ErrBadQuote)
	}
	return &Fragment{
		Text: fmt.Sprintf("[PRECIO EN TIEMPO REAL] %s cotiza ahora en %s %s (Binance). Este es el único precio válido: úsalo tal cual, con dos decimales, y no menciones otras cifras.",
			a.name, amount(price), a.unit),
		Authoritative: true,
	}, nil
}

// #endregion crypto

// #region national

var nationalKeywords = []string{
	"bcv", "tasa oficial", "dólar oficial", "dolar oficial",
	"precio del dólar", "precio del dolar", "tasa del dólar", "tasa del dolar",
	"cuánto está el dólar", "cuanto esta el dolar", "cuánto está el dolar",
	"a cómo está el dólar", "a como esta el dolar", "bolívares", "bolivares", "euro oficial",
}

// National scrapes the official central bank rates.
type National struct {
	keywords
	base    string
	fetcher *fetch.Fetcher
}

// NewNational creates the national currency enricher.
func NewNational(base string, f *fetch.Fetcher) *National {
	return &National{
		keywords: keywords{name: "national", group: GroupPrice, words: nationalKeywords},
		base:     strings.TrimRight(base, "/"),
		fetcher:  f,
	}
}

func (n *National) Enrich(ctx context.Context, _ conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	body, err := n.fetcher.GetCached(ctx, n.base+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("bcv page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse bcv page: %w", err)
	}

	usd, err := parseCommaDecimal(doc.Find("#dolar strong").First().Text())
	if err != nil {
		return nil, fmt.Errorf("bcv dollar rate: %w", err)
	}
	text := fmt.Sprintf("[TASA OFICIAL BCV] Dólar: %s bolívares.", amount(usd))
	if eur, err := parseCommaDecimal(doc.Find("#euro strong").First().Text()); err == nil {
		text += fmt.Sprintf(" Euro: %s bolívares.", amount(eur))
	}
	text += " Son las tasas oficiales del Banco Central de Venezuela: úsalas tal cual y no cites otras."
	return &Fragment{Text: text, Authoritative: true}, nil
}

// parseCommaDecimal reads "1.234,5678" style numbers.
func parseCommaDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadQuote
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !validPrice(v) {
		return 0, fmt.Errorf("%q: %w", s, ErrBadQuote)
	}
	return v, nil
}

// #endregion national

// #region forex

var marketAssets = []asset{
	{"precio del oro", "GC=F", "El oro", "USD por onza"},
	{"onza de oro", "GC=F", "El oro", "USD por onza"},
	{"el oro", "GC=F", "El oro", "USD por onza"},
	{"onza de plata", "SI=F", "La plata", "USD por onza"},
	{"precio de la plata", "SI=F", "La plata", "USD por onza"},
	{"brent", "BZ=F", "El petróleo Brent", "USD por barril"},
	{"petróleo", "CL=F", "El petróleo WTI", "USD por barril"},
	{"petroleo", "CL=F", "El petróleo WTI", "USD por barril"},
	{"barril", "CL=F", "El petróleo WTI", "USD por barril"},
	{"el euro", "EURUSD=X", "El euro", "USD"},
	{"del euro", "EURUSD=X", "El euro", "USD"},
	{"libra esterlina", "GBPUSD=X", "La libra esterlina", "USD"},
	{"el yen", "JPY=X", "El dólar", "yenes"},
	{"yen japonés", "JPY=X", "El dólar", "yenes"},
	{"peso colombiano", "COP=X", "El dólar", "pesos colombianos"},
	{"peso mexicano", "MXN=X", "El dólar", "pesos mexicanos"},
	{"s&p", "^GSPC", "El S&P 500", "puntos"},
	{"nasdaq", "^IXIC", "El Nasdaq", "puntos"},
	{"dow jones", "^DJI", "El Dow Jones", "puntos"},
	{"acciones de tesla", "TSLA", "La acción de Tesla", "USD"},
	{"acciones de apple", "AAPL", "La acción de Apple", "USD"},
	{"acciones de nvidia", "NVDA", "La acción de Nvidia", "USD"},
}

// Forex quotes currencies, commodities, indices and stocks from the Yahoo
// chart endpoint.
type Forex struct {
	keywords
	base    string
	fetcher *fetch.Fetcher
}

// NewForex creates the forex and commodity enricher.
func NewForex(base string, f *fetch.Fetcher) *Forex {
	return &Forex{
		keywords: keywords{name: "forex", group: GroupPrice, words: assetKeywords(marketAssets)},
		base:     strings.TrimRight(base, "/"),
		fetcher:  f,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string   `json:"currency"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

func (x *Forex) Enrich(ctx context.Context, u conversation.Utterance, _ Snapshot, _ Effects) (*Fragment, error) {
	a, ok := pickAsset(u.Lower, marketAssets)
	if !ok {
		return nil, nil
	}
	var resp chartResponse
	endpoint := x.base + "/v8/finance/chart/" + url.PathEscape(a.symbol) + "?interval=1d&range=1d"
	if err := x.fetcher.GetJSONCached(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", a.symbol, err)
	}
	if len(resp.Chart.Result) == 0 || resp.Chart.Result[0].Meta.RegularMarketPrice == nil {
		return nil, fmt.Errorf("yahoo %s: %w", a.symbol, ErrBadQuote)
	}
	price := *resp.Chart.Result[0].Meta.RegularMarketPrice
	if !validPrice(price) {
		return nil, fmt.Errorf("yahoo %s: %w", a.symbol, ErrBadQuote)
	}
	return &Fragment{
		Text: fmt.Sprintf("[COTIZACIÓN EN TIEMPO REAL] %s está en %s %s (Yahoo Finance). Usa solo este valor, con dos decimales.",
			a.name, amount(price), a.unit),
		Authoritative: true,
	}, nil
}

// #endregion forex
