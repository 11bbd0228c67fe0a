package router

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"runtime"

	"github.com/go-chi/chi/v5"
)

var DefaultError = JsonError{
	Status:  http.StatusInternalServerError,
	Code:    "INTERNAL_ERROR",
	Message: "Internal server error",
}

var NotFoundError = JsonError{
	Status:  http.StatusNotFound,
	Code:    "NOT_FOUND",
	Message: "Route not found",
}

// Router is a wrapper around chi.Router that provides error handling.
// Handlers can return an error that will then get mapped to an error response.
// Error mappers can be registered to translate domain errors into JsonErrors.
type Router struct {
	chi.Router
	errorMappers []ErrorMapper
	defaultError JsonError
	logger       *slog.Logger
	debug        bool
}

func New(opts ...RouterOption) *Router {
	return newRouter(chi.NewRouter(), opts...)
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

// WithDebug makes error responses carry the full error chain in the trace field.
func WithDebug(debug bool) RouterOption {
	return func(r *Router) {
		r.debug = debug
	}
}

// WithErrorMapper registers mappers that are consulted in order.
func WithErrorMapper(mappers ...ErrorMapper) RouterOption {
	return func(r *Router) {
		r.errorMappers = append(r.errorMappers, mappers...)
	}
}

func newRouter(chiRouter chi.Router, opts ...RouterOption) *Router {
	router := &Router{
		Router:       chiRouter,
		defaultError: DefaultError,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	for _, opt := range opts {
		opt(router)
	}
	return router
}

// derive returns a router sharing r's error handling on top of another chi router.
func (a *Router) derive(chiRouter chi.Router) *Router {
	return &Router{
		Router:       chiRouter,
		errorMappers: a.errorMappers,
		defaultError: a.defaultError,
		logger:       a.logger,
		debug:        a.debug,
	}
}

// HandlerFunc is a function that handles an HTTP request and returns an error.
// When the handler fails to handler to request it should not write anything to the response writer
// instead it should return an error that will be mapped to an error response.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type Middleware func(http.Handler) HandlerFunc

// ErrorMapper maps go errors to API errors. It reports false when it does
// not know the error.
type ErrorMapper func(error) (JsonError, bool)

func (a *Router) RegisterErrorMapper(fn ErrorMapper) {
	a.errorMappers = append(a.errorMappers, fn)
}

// MapError maps a go error to an API error.
// The mapping works as following:
//   - if the error wraps a JsonError it will be returned as is.
//   - otherwise the error mappers are tried in registration order.
//   - if no error mapper matches the default error will be returned.
func (a *Router) MapError(err error) JsonError {
	var apiErr JsonError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	for _, fn := range a.errorMappers {
		if mapped, ok := fn(err); ok {
			return mapped
		}
	}
	return a.defaultError
}

// WriteError writes err as an error envelope.
func (a *Router) WriteError(w http.ResponseWriter, err error) {
	resError := a.MapError(err)
	if a.debug {
		resError.Trace = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resError.StatusCode())
	if err := resError.Encode(w); err != nil {
		a.logger.Error("encode error response", slog.String("error", err.Error()))
	}
}

func (a *Router) handleWithErr(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err != nil {
			handlerFn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
			resError := a.MapError(err)
			if resError.StatusCode() >= http.StatusInternalServerError {
				a.logger.Error(err.Error(), slog.String("handler", handlerFn.Name()))
			} else {
				a.logger.Debug(err.Error(), slog.String("handler", handlerFn.Name()))
			}
			a.WriteError(w, err)
		}
	}
}

// Handler adapts an error returning handler into an http.Handler.
func (a *Router) Handler(h HandlerFunc) http.Handler {
	return a.handleWithErr(h)
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.handleWithErr(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.handleWithErr(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.handleWithErr(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.handleWithErr(h))
}

func (a *Router) NotFound(h HandlerFunc) {
	a.Router.NotFound(a.handleWithErr(h))
}

func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		f(a.derive(r))
	})
}

func (a *Router) Group(f func(r *Router)) *Router {
	ch := a.Router.Group(func(r chi.Router) {
		f(a.derive(r))
	})
	return a.derive(ch)
}

func (a *Router) Use(middleware Middleware) {
	a.Router.Use(func(h http.Handler) http.Handler {
		return a.handleWithErr(middleware(h))
	})
}

func (a *Router) With(middleware Middleware) *Router {
	ch := a.Router.With(func(h http.Handler) http.Handler {
		return a.handleWithErr(middleware(h))
	})
	return a.derive(ch)
}
