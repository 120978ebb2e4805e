// Package rest exposes a message bus as a JSON-over-HTTP API.
//
// Object paths on the bus map directly onto URL paths: a GET on an
// object reads its properties, subpaths select properties (/attr/),
// method invocations (/action/), and subtree queries (/enumerate,
// /list). Responses use a fixed {"status","message","data"}
// envelope. The /bus/ routes expose the bus itself: connection
// names, object trees and introspection data.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/busgate/busgate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the gateway API.
type Server struct {
	// Resolver executes bus operations.
	Resolver *busgate.Resolver
	// Log receives request logs. nil means slog.Default.
	Log *slog.Logger
	// Metrics, if set, receives request counters and latencies.
	Metrics *Metrics
	// Registry, if set, is served at /metrics.
	Registry *prometheus.Registry
}

func (s *Server) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bus/{$}", s.handleBusIndex)
	mux.HandleFunc("GET /bus/system/{$}", s.handleBusNames)
	mux.HandleFunc("GET /bus/system/{conn}", s.handleBusConn)
	mux.HandleFunc("GET /bus/system/{conn}/{rest...}", s.handleBusObject)
	mux.HandleFunc("GET /list/{$}", s.handleRootList)
	mux.HandleFunc("/xyz/", s.handleObject)
	mux.HandleFunc("/org/", s.handleObject)
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	return s.instrument(mux)
}

// run executes one resolver operation and blocks until its response
// has been written, or until the client goes away. A transaction may
// outlive its request; an abandoned sink drops the late response
// instead of touching a dead ResponseWriter.
func (s *Server) run(w http.ResponseWriter, r *http.Request, op func(tx *busgate.Transaction)) {
	sink := newSink(w)
	op(busgate.Begin(sink))
	select {
	case <-sink.done:
	case <-r.Context().Done():
		sink.abandon()
	}
}

func (s *Server) handleBusIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"busses": []any{map[string]any{"name": "system"}},
		"status": "ok",
	})
}

func (s *Server) handleBusNames(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(tx *busgate.Transaction) {
		s.Resolver.ListNames(tx)
	})
}

func (s *Server) handleBusConn(w http.ResponseWriter, r *http.Request) {
	conn := r.PathValue("conn")
	s.run(w, r, func(tx *busgate.Transaction) {
		s.Resolver.IntrospectObjects(tx, conn)
	})
}

// handleBusObject serves /bus/system/<conn>/<path...>. Object path
// elements cannot contain dots, and interface names always do, so
// the first dotted segment splits the object path from the interface
// selector.
func (s *Server) handleBusObject(w http.ResponseWriter, r *http.Request) {
	conn := r.PathValue("conn")
	rest := strings.Trim(r.PathValue("rest"), "/")
	if rest == "" {
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.IntrospectObjects(tx, conn)
		})
		return
	}
	segments := strings.Split(rest, "/")
	dotted := -1
	for i, seg := range segments {
		if strings.Contains(seg, ".") {
			dotted = i
			break
		}
	}
	switch {
	case dotted == -1:
		path := busgate.ObjectPath("/" + rest)
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.ObjectInterfaces(tx, conn, path)
		})
	case dotted == len(segments)-1:
		if dotted == 0 {
			writeError(w, http.StatusNotFound, "Object path required")
			return
		}
		path := busgate.ObjectPath("/" + strings.Join(segments[:dotted], "/"))
		iface := segments[dotted]
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.InterfaceDetail(tx, conn, path, iface)
		})
	default:
		writeError(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) handleRootList(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, func(tx *busgate.Transaction) {
		s.Resolver.List(tx, "/")
	})
}

// handleObject serves the bus object routes: property reads and
// writes, method invocations, and subtree queries.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		if obj, ok := strings.CutSuffix(path, "/enumerate"); ok {
			s.run(w, r, func(tx *busgate.Transaction) {
				s.Resolver.Enumerate(tx, busgate.ObjectPath(obj))
			})
			return
		}
		if obj, ok := strings.CutSuffix(path, "/list"); ok {
			s.run(w, r, func(tx *busgate.Transaction) {
				s.Resolver.List(tx, busgate.ObjectPath(obj))
			})
			return
		}
		obj, attr, ok := cutMember(path, "/attr/")
		if !ok {
			obj, attr = path, ""
		}
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.GetProperty(tx, busgate.ObjectPath(obj), attr)
		})

	case http.MethodPost:
		obj, method, ok := cutMember(path, "/action/")
		if !ok {
			writeError(w, http.StatusBadRequest, "Missing action name in URL")
			return
		}
		args, desc := actionBody(r)
		if desc != "" {
			writeError(w, http.StatusBadRequest, desc)
			return
		}
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.Action(tx, busgate.ObjectPath(obj), method, args)
		})

	case http.MethodPut:
		obj, attr, ok := cutMember(path, "/attr/")
		if !ok {
			writeError(w, http.StatusBadRequest, "Missing property name in URL")
			return
		}
		value, desc := putBody(r)
		if desc != "" {
			writeError(w, http.StatusBadRequest, desc)
			return
		}
		s.run(w, r, func(tx *busgate.Transaction) {
			s.Resolver.SetProperty(tx, busgate.ObjectPath(obj), attr, value)
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// cutMember splits "<obj><sep><member>" around the last occurrence
// of sep. The member must be a single nonempty path element.
func cutMember(path, sep string) (obj, member string, ok bool) {
	i := strings.LastIndex(path, sep)
	if i <= 0 {
		return "", "", false
	}
	obj, member = path[:i], path[i+len(sep):]
	if member == "" || strings.Contains(member, "/") {
		return "", "", false
	}
	return obj, member, true
}

// actionBody parses a POST body: the whole body is the JSON argument
// array. Numbers stay as json.Number so that integer precision
// survives until the wire encoding picks a type.
func actionBody(r *http.Request) (args []any, errDesc string) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, "Unable to parse JSON request body"
	}
	args, ok := raw.([]any)
	if !ok {
		return nil, "Request body must be a JSON array"
	}
	return args, ""
}

// putBody parses a PUT body: a JSON object whose "data" member is
// the new property value.
func putBody(r *http.Request) (value any, errDesc string) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, "Unable to parse JSON request body"
	}
	value, ok := raw["data"]
	if !ok {
		return nil, "Missing 'data' member in request body"
	}
	return value, ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, desc string) {
	writeJSON(w, status, busgate.ErrorEnvelope(status, desc))
}

// A responseSink adapts an http.ResponseWriter into a transaction's
// response sink. Once abandoned it swallows the response, because
// the writer is dead after the handler returns.
type responseSink struct {
	w    http.ResponseWriter
	done chan struct{}

	mu        sync.Mutex
	abandoned bool
}

func newSink(w http.ResponseWriter) *responseSink {
	return &responseSink{w: w, done: make(chan struct{})}
}

func (s *responseSink) WriteResponse(status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.abandoned {
		writeJSON(s.w, status, body)
	}
	close(s.done)
}

func (s *responseSink) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
}

// instrument wraps the mux with request logging and metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		if s.Metrics != nil {
			s.Metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			s.Metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		s.log().Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed)
	})
}

// routeLabel buckets a URL path by its first segment, so metric
// cardinality stays bounded no matter what paths clients probe.
func routeLabel(path string) string {
	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if seg == "" {
		return "/"
	}
	return seg
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
