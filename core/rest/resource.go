package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fatmatto/rest-toolkit/core"
	"github.com/fatmatto/rest-toolkit/core/controller"
)

// Builder is the input for Resource creation.
type Builder struct {
	// Controller executes the operations. Required.
	Controller *controller.Controller
	// Endpoints selectively disables operations. Operations missing from
	// the map stay enabled; unknown names are a configuration error.
	Endpoints map[string]bool
	// Notifier receives a notification after every successful mutating
	// operation. Optional.
	Notifier core.Notifier
}

// Resource exposes one controller over HTTP.
type Resource struct {
	Controller *controller.Controller
	endpoints  map[string]bool
	notifier   core.Notifier
	router     *mux.Router
}

// New creates a Resource and its router.
func New(b *Builder) (*Resource, error) {
	if b.Controller == nil {
		return nil, fmt.Errorf("rest: builder requires a controller")
	}
	if err := validateEndpoints(b.Endpoints); err != nil {
		return nil, err
	}
	r := &Resource{
		Controller: b.Controller,
		endpoints:  b.Endpoints,
		notifier:   b.Notifier,
	}
	r.RebuildRouter()
	return r, nil
}

// MustNew is like New but panics on configuration errors.
func MustNew(b *Builder) *Resource {
	r, err := New(b)
	if err != nil {
		panic(err)
	}
	return r
}

// Router returns the resource's own router, rooted at /.
func (r *Resource) Router() *mux.Router {
	return r.router
}

// RebuildRouter recreates the resource's router. Hooks registered on the
// controller take effect immediately, so this only matters after changing
// the endpoints map in place.
func (r *Resource) RebuildRouter() *mux.Router {
	router := mux.NewRouter()
	r.registerRoutes(router, "")
	r.router = router
	return router
}

// Mount registers the resource's routes on a parent router under the given
// prefix, e.g. "/books".
func (r *Resource) Mount(prefix string, parent *mux.Router) {
	r.registerRoutes(parent, strings.TrimSuffix(prefix, "/"))
}

// RegisterHook attaches a handler to the controller's named event.
func (r *Resource) RegisterHook(event string, handler controller.Hook) error {
	return r.Controller.RegisterHook(event, handler)
}

// ServeHTTP makes the resource an http.Handler.
func (r *Resource) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
