package tokensource

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory KeyStore for tests.
type memStore struct {
	key string
	err error
}

func (s *memStore) Read() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.key == "" {
		return "", ErrNoKey
	}
	return s.key, nil
}

func (s *memStore) Write(key string) error {
	s.key = key
	return nil
}

func getenvFrom(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestEnvStore(t *testing.T) {
	store := NewEnvStore(getenvFrom(map[string]string{EnvVar: "sk-ant-test"}))

	key, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", key)

	assert.Error(t, store.Write("anything"))
}

func TestEnvStore_Unset(t *testing.T) {
	store := NewEnvStore(getenvFrom(nil))

	_, err := store.Read()
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestFallback_FirstConfiguredWins(t *testing.T) {
	chain := Fallback{
		&memStore{},                  // empty, skipped
		&memStore{key: "secondary"},  // first configured
		&memStore{key: "never-read"}, // shadowed
	}

	key, err := chain.Read()
	require.NoError(t, err)
	assert.Equal(t, "secondary", key)
}

func TestFallback_HardErrorStopsChain(t *testing.T) {
	boom := errors.New("keyring unavailable")
	chain := Fallback{
		&memStore{err: boom},
		&memStore{key: "unreachable"},
	}

	_, err := chain.Read()
	assert.ErrorIs(t, err, boom)
}

func TestFallback_AllEmpty(t *testing.T) {
	_, err := Fallback{&memStore{}, &memStore{}}.Read()
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestFallback_WriteGoesToFirst(t *testing.T) {
	first := &memStore{}
	second := &memStore{}
	require.NoError(t, Fallback{first, second}.Write("new-key"))

	assert.Equal(t, "new-key", first.key)
	assert.Empty(t, second.key)
}

func TestTransport_SetsAPIKeyHeader(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-api-key")
	}))
	defer upstream.Close()

	client := &http.Client{Transport: NewTransport(&memStore{key: "sk-ant-test"}, nil)}

	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "sk-ant-test", gotHeader)
}

func TestTransport_DoesNotMutateRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)

	transport := NewTransport(&memStore{key: "sk-ant-test"}, nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, req.Header.Get("x-api-key"))
}

func TestTransport_MissingKey(t *testing.T) {
	transport := NewTransport(&memStore{}, nil)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:0", nil)
	require.NoError(t, err)

	_, err = transport.RoundTrip(req)
	assert.ErrorIs(t, err, ErrNoKey)
}
