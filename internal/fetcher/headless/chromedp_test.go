package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedp(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	unlimited, err := NewChromedp(Config{})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	require.Nil(t, unlimited.tabs)

	fetcher, err := NewChromedp(Config{MaxParallel: 2, WaitSelector: ".job-detail"})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	require.NotNil(t, fetcher.tabs)
	require.Equal(t, ".job-detail", fetcher.cfg.WaitSelector)
	require.Equal(t, defaultSettleDelay, fetcher.cfg.SettleDelay)
	require.Equal(t, 45*time.Second, fetcher.cfg.NavigationTimeout)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := networkHeaders(http.Header{
		"Referer":    {"a", "b"},
		"User-Agent": {"ua"},
		"X-Empty":    {},
	})
	require.Equal(t, []string{"a", "b"}, got["Referer"])
	require.Equal(t, "ua", got["User-Agent"])
	require.NotContains(t, got, "X-Empty")
}

func TestDocumentResponseKeepsTopLevelDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://jobs.test/job/1",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://jobs.test/app.js"},
	})
	doc.observe("not a network event")

	status, headers, url := doc.result("https://req", "https://location")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://jobs.test/job/1", url)
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentResponse{}).result("https://req", "https://location")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://location", url)

	_, _, url = (&documentResponse{}).result("https://req", "")
	require.Equal(t, "https://req", url)
}
