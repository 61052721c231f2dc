package catalog

import (
	"context"
	"net/http"
	"testing"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://api.test/v1"

// setupHTTPMock returns a client whose transport is mocked for the test.
func setupHTTPMock(t *testing.T, opts ...func(*Options)) *Client {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	o := Options{BaseURL: testBaseURL, APIKey: "test-api-key", HTTPClient: httpClient}
	for _, opt := range opts {
		opt(&o)
	}
	return NewClient(o)
}

func searchSuccessResponse() string {
	return `[
  {"id": "cat123", "url": "https://x/cat.jpg", "width": 600, "height": 400,
   "breeds": [{"id": "abys", "temperament": "Playful, Friendly"}, {"temperament": "Ignored"}]},
  {"id": "cat456", "url": "https://x/cat2.jpg", "width": 300, "height": 200, "breeds": []},
  {"id": "cat789", "url": "https://x/cat3.jpg", "width": 100, "height": 100}
]`
}

func TestFetch_Success(t *testing.T) {
	client := setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/images/search",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-api-key", req.Header.Get(APIKeyHeader))
			assert.Equal(t, "25", req.URL.Query().Get("limit"))
			assert.Equal(t, "1", req.URL.Query().Get("has_breeds"))
			return httpmock.NewStringResponse(http.StatusOK, searchSuccessResponse()), nil
		})

	items, err := client.Fetch(context.Background(), 25, DefaultFilter())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "cat123", items[0].ExternalID)
	assert.Equal(t, "https://x/cat.jpg", items[0].URL)
	assert.Equal(t, 600, items[0].Width)
	assert.Equal(t, 400, items[0].Height)
	require.NotNil(t, items[0].Temperament)
	assert.Equal(t, "Playful, Friendly", *items[0].Temperament)

	assert.Nil(t, items[1].Temperament)
	assert.Nil(t, items[2].Temperament)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestFetch_DefaultLimitAndBreedFilter(t *testing.T) {
	client := setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/images/search",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "25", req.URL.Query().Get("limit"))
			assert.Equal(t, "abys,beng", req.URL.Query().Get("breed_ids"))
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	items, err := client.Fetch(context.Background(), 0, Filter{HasBreeds: true, BreedIDs: []string{"abys", "beng"}})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetch_MissingConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opt  func(*Options)
	}{
		{"no api key", func(o *Options) { o.APIKey = "" }},
		{"blank api key", func(o *Options) { o.APIKey = "   " }},
		{"no base url", func(o *Options) { o.BaseURL = "" }},
		{"relative base url", func(o *Options) { o.BaseURL = "api.test/v1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupHTTPMock(t, tt.opt)

			items, err := client.Fetch(context.Background(), 25, DefaultFilter())

			require.Error(t, err)
			assert.Nil(t, items)
			assert.True(t, errors.Is(err, errors.ErrConfiguration))
			assert.Equal(t, 0, httpmock.GetTotalCallCount(), "no request may be sent")
		})
	}
}

func TestFetch_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden},
		{"not_found", http.StatusNotFound},
		{"internal_server_error", http.StatusInternalServerError},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupHTTPMock(t)
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/images/search",
				httpmock.NewStringResponder(tt.statusCode, `{"message": "nope"}`))

			items, err := client.Fetch(context.Background(), 25, DefaultFilter())

			require.Error(t, err)
			assert.Nil(t, items)
			assert.True(t, errors.Is(err, errors.ErrNetwork))
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	client := setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/images/search",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := client.Fetch(context.Background(), 25, DefaultFilter())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNetwork))
}

func TestFetch_InvalidJSON(t *testing.T) {
	client := setupHTTPMock(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/images/search",
		httpmock.NewStringResponder(http.StatusOK, `[{"id": "cat123", "width": "wide"`))

	items, err := client.Fetch(context.Background(), 25, DefaultFilter())

	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, errors.Is(err, errors.ErrParse))
}

func TestDecode_MissingFieldsAreZero(t *testing.T) {
	items, err := Decode([]byte(`[{"url": "https://x/cat.jpg"}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].ExternalID)
	assert.Zero(t, items[0].Width)
}
