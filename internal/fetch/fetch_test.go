package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outline-manager/internal/link"
)

const outlineJSON = `{"server":"203.0.113.1","server_port":8388,"password":"secret","method":"aes-256-gcm","prefix":"\u0016\u0003\u0001"}`

func newFetcher(opts Options) *Fetcher {
	return New(opts, zap.NewNop())
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestFetchFormats(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		hosts []string
	}{
		{name: "Outline JSON", body: outlineJSON, hosts: []string{"203.0.113.1"}},
		{
			name:  "JSON array",
			body:  `[{"server":"a.example.com","server_port":1,"password":"p","method":"aes-128-gcm"},{"server":"b.example.com","server_port":2,"password":"p","method":"aes-128-gcm"}]`,
			hosts: []string{"a.example.com", "b.example.com"},
		},
		{
			name:  "ss list with BOM",
			body:  "\ufeffss://YWVzLTI1Ni1nY206c2VjcmV0@203.0.113.9:443#edge\n",
			hosts: []string{"203.0.113.9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := serve(t, tt.body)

			res, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL)
			require.NoError(t, err)
			require.Len(t, res.Proxies, len(tt.hosts))
			for i, host := range tt.hosts {
				assert.Equal(t, host, res.Proxies[i].Host)
			}
			assert.Empty(t, res.RedirectURL)
		})
	}
}

func TestFetchOutlineFields(t *testing.T) {
	ts := serve(t, outlineJSON)

	res, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	p := res.Proxies[0]
	assert.Equal(t, 8388, p.Port)
	assert.Equal(t, "secret", p.Password)
	assert.Equal(t, "aes-256-gcm", p.Method)
}

func TestFetchInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "Empty", body: ""},
		{name: "Broken JSON", body: `{"server":`},
		{name: "Empty array", body: `[]`},
		{name: "Missing port", body: `{"server":"h","password":"p","method":"aes-128-gcm"}`},
		{name: "Not a key", body: "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := serve(t, tt.body)

			_, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestFetchListErrorKeepsCause(t *testing.T) {
	ts := serve(t, "ss://broken")

	_, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.ErrorIs(t, err, link.ErrInvalidAccessKey)
}

func TestFetchNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchUnsupportedScheme(t *testing.T) {
	_, err := newFetcher(Options{}).Fetch(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestFetchUnreachable(t *testing.T) {
	ts := serve(t, outlineJSON)
	url := ts.URL
	ts.Close()

	_, err := newFetcher(Options{}).Fetch(context.Background(), url)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	_, err := newFetcher(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), ts.URL)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "timeout")
}

func TestFetchTooLarge(t *testing.T) {
	ts := serve(t, strings.Repeat("a", 64))

	_, err := newFetcher(Options{MaxBytes: 10}).Fetch(context.Background(), ts.URL)
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetchRedirects(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		permanent bool
	}{
		{name: "Moved permanently", codes: []int{http.StatusMovedPermanently}, permanent: true},
		{name: "Permanent redirect", codes: []int{http.StatusPermanentRedirect}, permanent: true},
		{name: "Two permanent hops", codes: []int{http.StatusMovedPermanently, http.StatusPermanentRedirect}, permanent: true},
		{name: "Found", codes: []int{http.StatusFound}},
		{name: "Temporary redirect", codes: []int{http.StatusTemporaryRedirect}},
		{name: "Permanent then temporary", codes: []int{http.StatusMovedPermanently, http.StatusFound}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(outlineJSON))
			})
			for i, code := range tt.codes {
				code := code
				from := "/hop" + string(rune('0'+i))
				to := "/hop" + string(rune('1'+i))
				if i == len(tt.codes)-1 {
					to = "/final"
				}
				mux.HandleFunc(from, func(w http.ResponseWriter, r *http.Request) {
					http.Redirect(w, r, to, code)
				})
			}
			ts := httptest.NewServer(mux)
			defer ts.Close()

			res, err := newFetcher(Options{}).Fetch(context.Background(), ts.URL+"/hop0")
			require.NoError(t, err)
			require.Len(t, res.Proxies, 1)
			if tt.permanent {
				assert.Equal(t, ts.URL+"/final", res.RedirectURL)
			} else {
				assert.Empty(t, res.RedirectURL)
			}
		})
	}
}

func TestFetchTooManyRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusMovedPermanently)
	}))
	defer ts.Close()

	_, err := newFetcher(Options{MaxRedirects: 2}).Fetch(context.Background(), ts.URL)
	assert.ErrorIs(t, err, ErrUnreachable)
}
