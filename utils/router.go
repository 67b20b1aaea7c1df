package utils

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter constructs the application router with a JSON 404 so API clients
// never receive the default text/plain body.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not found"}`))
	})
	return r
}
