package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviya/platform/internal/storage"
)

func TestSearchSendsTokenQuery(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Result{
			OK: true,
			Providers: []storage.Provider{
				{ID: "p1", Phone: "593977000111", Name: "Juan", City: "Quito"},
				{ID: "p2", Phone: "593977000222", Name: "Ana", City: "Quito"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second, nil)
	result, err := client.Search(context.Background(), "plomero fontanero", "Quito", 10, true)
	require.NoError(t, err)

	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, []string{"plomero fontanero"}, gotQuery["q"])
	assert.Equal(t, []string{"Quito"}, gotQuery["city"])
	assert.Equal(t, []string{"token"}, gotQuery["mode"])
	assert.Equal(t, []string{"1"}, gotQuery["ai"])
	assert.Equal(t, "Bearer secret", gotAuth)

	assert.True(t, result.OK)
	require.Len(t, result.Providers, 2)
	assert.Equal(t, 2, result.Total)
}

func TestSearchBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	_, err := client.Search(context.Background(), "plomero", "Quito", 10, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSearchUnconfigured(t *testing.T) {
	client := NewClient("", "", 0, nil)
	_, err := client.Search(context.Background(), "plomero", "Quito", 10, false)
	assert.Error(t, err)
}
