package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cbond-trigger-go/order"
)

func TestCallbackPostsRecord(t *testing.T) {
	got := make(chan order.Record, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var rec order.Record
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("data")), &rec))
		got <- rec
	}))
	defer srv.Close()

	c := NewCallbackClient(0, nil)
	rec := order.Record{Key: "rule0@{}", Code: "123001", Buy: order.Leg{OrderID: "1", Status: order.StatusFilled, DealVolume: 10}}
	require.NoError(t, c.Notify(context.Background(), srv.URL, rec))

	r := <-got
	assert.Equal(t, "rule0@{}", r.Key)
	assert.Equal(t, order.StatusFilled, r.Buy.Status)
	assert.Equal(t, int64(10), r.Buy.DealVolume)
}

func TestCallbackNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewCallbackClient(0, nil).Notify(context.Background(), srv.URL, order.Record{Key: "k"})
	assert.Error(t, err)
}

func TestCallbackUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewCallbackClient(0, nil).Notify(context.Background(), url, order.Record{Key: "k"})
	assert.Error(t, err)
}
