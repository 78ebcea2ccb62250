package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pricingHTML = `<html><head><title>Acme Pricing</title></head>
<body><nav>Menu Home Docs</nav>
<article>
<h1>Plans and pricing</h1>
<p>Acme helps teams ship faster. Every plan includes unlimited viewers, audit history and email support from our team.</p>
<h2>Starter</h2>
<p>Free forever for individuals who want to try Acme on small projects and personal work.</p>
<h2>Pro</h2>
<p>Pro plan costs $49 per month and adds SSO, advanced permissions and priority support for growing teams.</p>
<h2>Enterprise</h2>
<p>Enterprise pricing is custom. Contact sales for volume discounts, dedicated success managers and SLAs.</p>
<ul><li>SOC 2 Type II report</li><li>SAML single sign-on</li></ul>
</article>
<footer>Copyright 2026 Acme</footer></body></html>`

func TestLocalScraper_ReadableHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "DealForgeBot")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(pricingHTML))
	}))
	defer srv.Close()

	s := NewLocalScraper()
	result, err := s.Scrape(context.Background(), srv.URL+"/pricing")
	require.NoError(t, err)
	assert.Equal(t, "local_http", result.Source)
	assert.Equal(t, 200, result.Page.StatusCode)
	assert.NotEmpty(t, result.Page.Title)
	assert.Contains(t, result.Page.Markdown, "$49 per month")
	assert.NotContains(t, result.Page.Markdown, "Copyright 2026")
}

func TestLocalScraper_Cloudflare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(403)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLocalScraper_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLocalScraper_HTTP404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`<html><body>Not found page with lots of content here to exceed threshold</body></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLocalScraper_HostRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pricingHTML))
	}))
	defer srv.Close()

	s := NewLocalScraper(WithHostRate(5))
	start := time.Now()
	for range 3 {
		_, err := s.Scrape(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// Burst of one: the 2nd and 3rd requests each wait ~200ms.
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestLocalScraper_RateWaitHonorsContext(t *testing.T) {
	s := NewLocalScraper(WithHostRate(0.01))
	// Drain the single burst token for the host.
	require.True(t, s.limiter("acme.test").Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Scrape(ctx, "http://acme.test/pricing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestLocalScraper_Supports(t *testing.T) {
	s := NewLocalScraper()
	assert.Equal(t, "local_http", s.Name())
	assert.True(t, s.Supports("https://acme.io"))
	assert.True(t, s.Supports("http://localhost:8080"))
	assert.False(t, s.Supports("ftp://acme.io"))
	assert.False(t, s.Supports("not a url"))
}

func TestHTMLToText_Structure(t *testing.T) {
	input := `<html><head><style>body{color:red}</style></head>
<body><script>alert('hi')</script><h2>Plans</h2><ul><li>Pro &amp; Team</li><li>Enterprise</li></ul><p>World</p></body></html>`
	result := htmlToText(input)
	assert.Contains(t, result, "## Plans")
	assert.Contains(t, result, "- Pro & Team")
	assert.Contains(t, result, "- Enterprise")
	assert.NotContains(t, result, "alert")
	assert.NotContains(t, result, "color:red")
	assert.NotContains(t, result, "<h2>")
	assert.NotContains(t, result, "\n\n\n")
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Acme & Co", extractTitle([]byte(`<html><head><title> Acme &amp; Co </title></head></html>`)))
	assert.Equal(t, "", extractTitle([]byte(`<html><body>no title here</body></html>`)))
}

func TestReadable_FallsBackForThinArticle(t *testing.T) {
	body := []byte(`<html><head><title>Acme</title></head><body><div>` + strings.Repeat("<p>Integrations: Slack, Jira, GitHub.</p>", 3) + `</div></body></html>`)
	u, _ := url.Parse("https://acme.io/")
	title, text := readable(body, u)
	assert.Equal(t, "Acme", title)
	assert.Contains(t, text, "Slack")
}
