package netutil

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRetryTransportReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	rt := &retryTransport{
		retries: 2,
		backoff: time.Millisecond,
		base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
			if calls.Add(1) == 1 {
				return nil, &net.OpError{Op: "dial", Err: errors.New("refused")}
			}
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		}),
	}

	req, err := http.NewRequest(http.MethodPost, "https://graph.example/v1/messages", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestRetryTransportStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("bad certificate")
	rt := &retryTransport{
		retries: 3,
		backoff: time.Millisecond,
		base: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, boom
		}),
	}
	req, err := http.NewRequest(http.MethodGet, "https://graph.example", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(ClientOptions{})
	assert.Equal(t, 30*time.Second, c.Timeout)
	rt, ok := c.Transport.(*retryTransport)
	require.True(t, ok)
	assert.Zero(t, rt.retries)
}
