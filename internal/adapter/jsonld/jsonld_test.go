package jsonld

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookfinder/internal/adapter"
	"bookfinder/internal/httpx"
)

const searchPage = `<!doctype html>
<html><head>
<script type="application/ld+json">
{
  "@type": "Product",
  "name": "Dune (Paperback)",
  "author": {"name": "Frank Herbert"},
  "isbn": "9780441172719",
  "offers": [
    {"price": "5.99", "priceCurrency": "USD",
     "itemCondition": "https://schema.org/UsedCondition",
     "url": "https://books.example.com/dune-used"},
    {"price": 12.50, "priceCurrency": "USD",
     "itemCondition": "https://schema.org/NewCondition"}
  ]
}
</script>
<script type="application/ld+json">not valid json at all</script>
<script type="application/ld+json">
[{"@type": "BreadcrumbList"},
 {"@type": "Book", "name": "Dune Messiah",
  "author": ["Frank Herbert"],
  "offers": {"lowPrice": "7.25", "priceCurrency": "GBP"}},
 {"@type": "Book", "name": "No Offers Here"}]
</script>
</head><body></body></html>`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		Name:              "ExampleBooks",
		BaseURL:           srv.URL,
		SearchURLTemplate: srv.URL + "/search?q={query}",
	}, httpx.New(5*time.Second))
}

func TestSearch_ParsesProductAndBookOffers(t *testing.T) {
	t.Parallel()

	var gotPath string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(searchPage))
	})

	quotes, err := a.Search(t.Context(), adapter.Query{Text: "dune messiah", MaxResults: 10})
	require.NoError(t, err)
	require.Equal(t, "/search?q=dune+messiah", gotPath)
	require.Len(t, quotes, 3)

	used := quotes[0]
	require.Equal(t, "Dune (Paperback)", used.Title)
	require.Equal(t, "Frank Herbert", used.Author)
	require.InDelta(t, 5.99, used.Price, 1e-9)
	require.Equal(t, adapter.ConditionUsed, used.Condition)
	require.Equal(t, "https://books.example.com/dune-used", used.URL)
	require.Equal(t, "9780441172719", used.ISBN)
	require.Equal(t, "ExampleBooks", used.Source)

	require.Equal(t, adapter.ConditionNew, quotes[1].Condition)
	require.InDelta(t, 12.50, quotes[1].Price, 1e-9)

	messiah := quotes[2]
	require.Equal(t, "Dune Messiah", messiah.Title)
	require.InDelta(t, 7.25, messiah.Price, 1e-9)
	require.Equal(t, "GBP", messiah.Currency)
	require.Equal(t, adapter.ConditionUnknown, messiah.Condition)
}

func TestSearch_EscapesQueryMetacharacters(t *testing.T) {
	t.Parallel()

	var gotRawQuery string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(searchPage))
	})

	_, err := a.Search(t.Context(), adapter.Query{Text: "dune & 100% #1", MaxResults: 5})
	require.NoError(t, err)
	require.Equal(t, "q=dune+%26+100%25+%231", gotRawQuery)
}

func TestSearch_TruncatesToMaxResults(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchPage))
	})

	quotes, err := a.Search(t.Context(), adapter.Query{Text: "dune", MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
}

func TestSearch_HTTPErrorSurfaces(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := a.Search(t.Context(), adapter.Query{Text: "dune", MaxResults: 5})
	require.ErrorContains(t, err, "status 503")
}

func TestSearch_TemplateWithoutPlaceholderFails(t *testing.T) {
	t.Parallel()

	a := New(Config{Name: "Broken", SearchURLTemplate: "https://example.com/search"}, httpx.New(time.Second))
	_, err := a.Search(t.Context(), adapter.Query{Text: "dune"})
	require.ErrorContains(t, err, "{query}")
}

func TestIsAvailable(t *testing.T) {
	t.Parallel()

	up := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})
	require.True(t, up.IsAvailable(t.Context()))

	down := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	require.False(t, down.IsAvailable(t.Context()))
}
