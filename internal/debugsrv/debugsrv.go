// Package debugsrv is the optional fasthttp introspection server: bridge
// stats as JSON, the Prometheus exposition endpoint, and the swagger UI for
// both. It never touches a queue's elements, only Registry.Stats snapshots,
// so it can run regardless of what the agent/dataplane loops are doing.
package debugsrv

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/lagopus-go/dpqueue/internal/logging"
	"github.com/lagopus-go/dpqueue/internal/telemetry"
	"github.com/lagopus-go/dpqueue/registry"
)

// Server is the debug HTTP surface, adapted from the teacher's
// pkg/httpx.FastHTTPAdapter pattern but serving our own handlers directly
// as fasthttp.RequestHandler rather than routing through the net/http
// compatibility shim -- only the two third-party handlers below (metrics,
// swagger) need that adaptation.
type Server struct {
	addr string
	reg  *registry.Registry
	tel  *telemetry.Telemetry

	metrics fasthttp.RequestHandler
	swagger fasthttp.RequestHandler
	srv     *fasthttp.Server
}

// New builds a Server bound to addr. It does not start listening.
func New(addr string, reg *registry.Registry, tel *telemetry.Telemetry) *Server {
	s := &Server{addr: addr, reg: reg, tel: tel}
	s.metrics = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(tel.Registry, promhttp.HandlerOpts{}))
	s.swagger = fasthttpadaptor.NewFastHTTPHandler(
		httpSwagger.Handler(httpSwagger.URL("/debug/openapi.yaml")))
	s.srv = &fasthttp.Server{Handler: s.route}
	return s
}

// ListenAndServe blocks until the server is shut down or fails to bind.
func (s *Server) ListenAndServe() error {
	logging.Info("debugsrv_listening", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the server, waiting up to five seconds.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/debug/bridges":
		s.handleBridges(ctx)
	case strings.HasPrefix(path, "/debug/bridges/"):
		s.handleBridge(ctx, strings.TrimPrefix(path, "/debug/bridges/"))
	case path == "/debug/metrics":
		s.metrics(ctx)
	case path == "/debug/openapi.yaml":
		ctx.SetContentType("application/yaml")
		ctx.SetBodyString(openAPISpec)
	case strings.HasPrefix(path, "/debug/swagger"):
		s.swagger(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) handleBridges(ctx *fasthttp.RequestCtx) {
	entries := make([]*registry.Entry, registry.MaxBridges)
	n, err := s.reg.SnapshotEntries(entries)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusOK, []registry.Stats{})
		return
	}
	defer func() {
		for _, e := range entries[:n] {
			s.reg.EntryFree(e)
		}
	}()

	out := make([]registry.Stats, 0, n)
	for _, ent := range entries[:n] {
		if st, err := s.reg.Stats(ent.DPID()); err == nil {
			out = append(out, st)
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) handleBridge(ctx *fasthttp.RequestCtx, raw string) {
	dpid, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	st, err := s.reg.Stats(dpid)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, st)
}

// writeJSON encodes v into a pooled scratch buffer before copying it into
// the response, the same bytebufferpool-mediated pattern the teacher's
// ingest engine uses for its own internal copies (pkg/ingest/queue/engine.go)
// rather than encoding straight into a per-request allocation.
func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	_, _ = ctx.Write(buf.B)
}

const openAPISpec = `openapi: 3.0.0
info:
  title: dpqueue debug API
  version: "1.0"
paths:
  /debug/bridges:
    get:
      summary: List registered bridges and their queue stats
      responses:
        "200":
          description: OK
  /debug/bridges/{dpid}:
    get:
      summary: Queue stats for one bridge
      parameters:
        - name: dpid
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: OK
        "404":
          description: not found
  /debug/metrics:
    get:
      summary: Prometheus exposition
      responses:
        "200":
          description: OK
`
