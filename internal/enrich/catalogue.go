package enrich

import (
	"math/rand"
	"time"

	"github.com/danielpatrickdp/olga/go-assistant/internal/config"
	"github.com/danielpatrickdp/olga/go-assistant/internal/contacts"
	"github.com/danielpatrickdp/olga/go-assistant/internal/fetch"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
	"github.com/danielpatrickdp/olga/go-assistant/internal/websearch"
)

// Deps are the collaborators the standard catalogue needs.
type Deps struct {
	Fetcher        *fetch.Fetcher
	Search         *websearch.Client
	Endpoints      config.EndpointsConfig
	Contacts       contacts.Directory
	Memory         memory.Store
	MemoryLimit    int
	TrafficTimeout time.Duration
	Rand           *rand.Rand
}

// NewCatalogue builds the standard enricher list. Price enrichers come
// first in precedence order, then the search variants in precedence order.
func NewCatalogue(d Deps) Catalogue {
	rng := d.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	maxResults := 3
	if d.Search != nil {
		maxResults = d.Search.MaxResults()
	}
	return Catalogue{
		NewCrypto(d.Endpoints.Crypto, d.Fetcher),
		NewNational(d.Endpoints.National, d.Fetcher),
		NewForex(d.Endpoints.Market, d.Fetcher),
		NewMarketplace(d.Endpoints.Marketplace, d.Fetcher, maxResults),
		NewPlaces(d.Endpoints.Geocode, d.Fetcher, d.Search),
		NewTraffic(d.Search, d.TrafficTimeout),
		NewBiography(d.Search),
		NewNews(d.Search),
		NewCinema(d.Search),
		NewSocial(d.Search),
		NewGeneral(d.Search),
		NewPortfolio(d.Endpoints.Portfolio, d.Endpoints.PortfolioProxy, d.Fetcher),
		NewContacts(d.Contacts),
		NewAlarm(),
		NewTarot(rng),
		NewScript(),
		NewRecall(d.Memory, d.MemoryLimit),
	}
}
