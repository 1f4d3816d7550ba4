package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"running","running":true,"generation":7,"tick":120,"topology":"8-16-16-4"}`))
	})
	mux.HandleFunc("/api/v1/stats/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("run"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"generation":1,"max_fitness":12.5},{"generation":2,"max_fitness":20}]`))
	})
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stats published yet", http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"state":"running","running":true,"run_id":"r1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestObserver(t *testing.T) {
	srv := fakeAPI(t)
	o := NewObserver(srv.URL)
	ctx := context.Background()

	st, err := o.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 7, st.Generation)

	hist, err := o.History(ctx, "abc", 5)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 20.0, hist[1].MaxFitness)

	_, err = o.Stats(ctx)
	assert.ErrorContains(t, err, "404")
}

func TestActor(t *testing.T) {
	srv := fakeAPI(t)
	ctx := context.Background()

	st, err := NewActor(srv.URL, "k").Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", st.RunID)

	_, err = NewActor(srv.URL, "bad").Start(ctx)
	var re *RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusUnauthorized, re.Code)
}
