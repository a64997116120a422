// Package rest binds controllers to HTTP. It generates the routes for every
// enabled operation, decodes the query-modifier syntax, runs the hook
// pipeline and renders the response envelope.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fatmatto/rest-toolkit/core"
	"github.com/fatmatto/rest-toolkit/core/controller"
	"github.com/fatmatto/rest-toolkit/core/document"
	"github.com/fatmatto/rest-toolkit/core/errs"
	"github.com/fatmatto/rest-toolkit/core/logger"
)

// route metadata per operation
type routeSpec struct {
	method string
	path   string
}

var routes = map[core.Operation]routeSpec{
	core.OperationCount:         {http.MethodGet, "/count"},
	core.OperationFind:          {http.MethodGet, "/"},
	core.OperationFindByID:      {http.MethodGet, "/{id}"},
	core.OperationCreate:        {http.MethodPost, "/"},
	core.OperationUpdateByID:    {http.MethodPut, "/{id}"},
	core.OperationUpdateByQuery: {http.MethodPut, "/"},
	core.OperationPatchByID:     {http.MethodPatch, "/{id}"},
	core.OperationReplaceByID:   {http.MethodPut, "/{id}/replace"},
	core.OperationDeleteByID:    {http.MethodDelete, "/{id}"},
	core.OperationDeleteByQuery: {http.MethodDelete, "/"},
}

// operations with a JSON request body
var bodyOperations = map[core.Operation]bool{
	core.OperationCreate:        true,
	core.OperationUpdateByID:    true,
	core.OperationUpdateByQuery: true,
	core.OperationPatchByID:     true,
	core.OperationReplaceByID:   true,
}

// operations that change data and trigger a notification
var mutatingOperations = map[core.Operation]bool{
	core.OperationCreate:        true,
	core.OperationUpdateByID:    true,
	core.OperationUpdateByQuery: true,
	core.OperationPatchByID:     true,
	core.OperationReplaceByID:   true,
	core.OperationDeleteByID:    true,
	core.OperationDeleteByQuery: true,
}

func validateEndpoints(endpoints map[string]bool) error {
	known := map[string]bool{}
	for _, op := range core.RoutedOperations {
		known[string(op)] = true
	}
	for name := range endpoints {
		if !known[name] {
			return fmt.Errorf("rest: endpoints configuration: unknown operation %s", name)
		}
	}
	return nil
}

// registerRoutes adds the routes for all enabled operations to the router,
// prefixed with prefix ("" for the root). The /count route is registered
// first so the single-item route does not shadow it.
func (r *Resource) registerRoutes(router *mux.Router, prefix string) {
	rlog := logger.Default()
	for _, op := range core.RoutedOperations {
		if enabled, ok := r.endpoints[string(op)]; ok && !enabled {
			continue
		}
		spec := routes[op]
		path := prefix + spec.path
		if prefix != "" && spec.path == "/" {
			path = prefix
		}
		rlog.Debugf("rest %s: handle route %s %s (%s)", r.Controller.Name(), spec.method, path, op)
		router.HandleFunc(path, r.handle(op)).Methods(spec.method)
	}
}

func (r *Resource) handle(op core.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, rlog := logger.ContextWithLogger(req.Context())

		request := &controller.Request{
			Operation: op,
			Query:     decodeQuery(req.URL.Query()),
		}
		if id, ok := mux.Vars(req)["id"]; ok {
			request.ID = id
		}
		if bodyOperations[op] {
			defer req.Body.Close()
			if err := json.NewDecoder(req.Body).Decode(&request.Body); err != nil {
				writeError(w, rlog, errs.BadRequest("invalid JSON body: %s", err))
				return
			}
		}

		envelope, err := r.Controller.Run(ctx, op, request, r.operationBody(op))
		if err != nil {
			writeError(w, rlog, err)
			return
		}

		status := http.StatusOK
		if op == core.OperationCreate {
			status = http.StatusCreated
		}
		writeJSON(w, status, envelope)

		if r.notifier != nil && mutatingOperations[op] {
			payload, _ := json.Marshal(envelope.Data)
			r.notifier.Notify(r.Controller.Name(), op, payload)
		}
	}
}

// operationBody returns the pipeline step executing the operation itself.
func (r *Resource) operationBody(op core.Operation) controller.Hook {
	c := r.Controller
	switch op {
	case core.OperationFind:
		return func(ctx context.Context, req *controller.Request) error {
			docs, err := c.Find(ctx, req.Query)
			req.Result = docs
			return err
		}
	case core.OperationFindByID:
		return func(ctx context.Context, req *controller.Request) error {
			doc, err := c.FindByID(ctx, req.ID, req.Query)
			req.Result = doc
			return err
		}
	case core.OperationCreate:
		return func(ctx context.Context, req *controller.Request) error {
			result, err := c.Create(ctx, req.Body)
			req.Result = result
			return err
		}
	case core.OperationUpdateByID:
		return func(ctx context.Context, req *controller.Request) error {
			update, err := bodyDocument(req.Body)
			if err != nil {
				return err
			}
			doc, err := c.UpdateByID(ctx, req.ID, update, req.Query)
			req.Result = doc
			return err
		}
	case core.OperationUpdateByQuery:
		return func(ctx context.Context, req *controller.Request) error {
			update, err := bodyDocument(req.Body)
			if err != nil {
				return err
			}
			count, err := c.UpdateByQuery(ctx, req.Query, update)
			req.Result = map[string]int{"updated": count}
			return err
		}
	case core.OperationPatchByID:
		return func(ctx context.Context, req *controller.Request) error {
			doc, err := c.PatchByID(ctx, req.ID, req.Body, req.Query)
			req.Result = doc
			return err
		}
	case core.OperationReplaceByID:
		return func(ctx context.Context, req *controller.Request) error {
			replacement, err := bodyDocument(req.Body)
			if err != nil {
				return err
			}
			doc, err := c.ReplaceByID(ctx, req.ID, replacement, req.Query)
			req.Result = doc
			return err
		}
	case core.OperationDeleteByID:
		return func(ctx context.Context, req *controller.Request) error {
			req.Result = nil
			return c.DeleteByID(ctx, req.ID, req.Query)
		}
	case core.OperationDeleteByQuery:
		return func(ctx context.Context, req *controller.Request) error {
			req.Result = nil
			return c.DeleteByQuery(ctx, req.Query)
		}
	case core.OperationCount:
		return func(ctx context.Context, req *controller.Request) error {
			count, err := c.Count(ctx, req.Query)
			req.Result = map[string]int{"count": count}
			return err
		}
	default:
		return func(ctx context.Context, req *controller.Request) error {
			return errs.Internal("no handler for operation %s", op)
		}
	}
}

func bodyDocument(body interface{}) (document.Document, error) {
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil, errs.BadRequest("request body must be a JSON object")
	}
	return document.Document(m), nil
}

// the query keys that support the bracket/colon per-relationship scoping
var scopedModifiers = map[string]bool{
	"includes":  true,
	"include":   true,
	"fields":    true,
	"sortby":    true,
	"sortorder": true,
	"skip":      true,
	"limit":     true,
}

// decodeQuery turns url values into the raw query map consumed by the
// controller. Both limit[books]=2 and the legacy fields:books=title syntax
// scope a modifier to one relationship. A repeated scoped modifier is
// last-wins.
func decodeQuery(values url.Values) controller.RawQuery {
	raw := controller.RawQuery{}
	for key, list := range values {
		if len(list) == 0 {
			continue
		}
		base, target := splitScopedKey(key)
		if target != "" {
			scoped, ok := raw[base].(map[string]interface{})
			if !ok {
				scoped = map[string]interface{}{}
				if s, isString := raw[base].(string); isString {
					scoped[controller.DefaultKey] = s
				}
				raw[base] = scoped
			}
			scoped[target] = list[len(list)-1]
			continue
		}
		if scoped, ok := raw[key].(map[string]interface{}); ok {
			scoped[controller.DefaultKey] = list[len(list)-1]
			continue
		}
		if len(list) == 1 {
			raw[key] = list[0]
		} else {
			raw[key] = list
		}
	}
	return raw
}

func splitScopedKey(key string) (base, target string) {
	if open := strings.Index(key, "["); open > 0 && strings.HasSuffix(key, "]") {
		base, target = key[:open], key[open+1:len(key)-1]
	} else if colon := strings.Index(key, ":"); colon > 0 {
		base, target = key[:colon], key[colon+1:]
	} else {
		return key, ""
	}
	if !scopedModifiers[base] || target == "" {
		return key, ""
	}
	return base, target
}

type errorEnvelope struct {
	Status bool   `json:"status"`
	Error  string `json:"error"`
}

func writeError(w http.ResponseWriter, rlog *logrus.Entry, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rlog.WithError(err).Error("request failed")
	} else {
		rlog.WithError(err).Debug("request rejected")
	}
	writeJSON(w, status, errorEnvelope{Status: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Default().WithError(err).Error("encoding response")
	}
}
