package journal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesRecentEntries(t *testing.T) {
	db := &fakeDB{}
	j := New(db, rejectQueue{})
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Insert(context.Background(), EntryFrom(context.Background(), j.newID(), transition(at.Add(time.Duration(i)*time.Second)))))
	}

	rec := httptest.NewRecorder()
	j.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/919800000001?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, at.Add(2*time.Second), got[0].CreatedAt)
	assert.Equal(t, "dept_health", got[0].NodeAfter)
}

func TestHandlerRejectsBadLimitAndReportsErrors(t *testing.T) {
	j := New(&fakeDB{}, rejectQueue{})
	rec := httptest.NewRecorder()
	j.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/u1?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	j.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nobody", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	j = New(&failingSelect{err: errors.New("connection refused")}, rejectQueue{})
	rec = httptest.NewRecorder()
	j.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/u1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingSelect struct {
	fakeDB
	err error
}

func (f *failingSelect) SelectContext(context.Context, any, string, ...any) error { return f.err }
