// Package http serves a JSON API over the local nodes of a network
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	levcan "github.com/samsamfire/golevcan"
	"github.com/samsamfire/golevcan/pkg/gateway"
	"github.com/samsamfire/golevcan/pkg/network"
	n "github.com/samsamfire/golevcan/pkg/node"
	log "github.com/sirupsen/logrus"
)

const API_VERSION = "1.0"
const DefaultWaitTimeout = 5 * time.Second

type nodeKey struct{}

type GatewayServer struct {
	*gateway.BaseGateway
	logger *log.Entry
	router chi.Router
}

// Create a new gateway
func NewGatewayServer(network *network.Network, defaultNodeId uint8, logger *log.Logger) *GatewayServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	gw := &GatewayServer{
		BaseGateway: gateway.NewBaseGateway(network, defaultNodeId, logger),
		logger:      logger.WithField("service", "[HTTP]"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/levcan/"+API_VERSION, func(r chi.Router) {
		r.Get("/info/version", gw.handleGetVersion)
		r.Put("/default/{nodeId}", gw.handleSetDefaultNode)
		r.Get("/nodes", gw.handleListNodes)
		r.Route("/nodes/{nodeId}", func(r chi.Router) {
			r.Use(gw.localNode)
			r.Get("/", gw.handleGetNode)
			r.Get("/peers", gw.handleListPeers)
			r.Get("/peers/{peerId}", gw.handleGetPeer)
			r.Post("/send", gw.handleSend)
			r.Post("/request", gw.handleRequest)
		})
	})
	gw.router = r
	return gw
}

func (gw *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gw.router.ServeHTTP(w, r)
}

// Process server, blocking
func (gw *GatewayServer) ListenAndServe(addr string) error {
	gw.logger.Infof("serving on %v", addr)
	return http.ListenAndServe(addr, gw)
}

func parseNodeId(value string) (uint8, error) {
	id, err := strconv.ParseUint(value, 0, 8)
	if err != nil || id > levcan.BroadcastAddress {
		return 0, levcan.ErrIllegalArgument
	}
	return uint8(id), nil
}

// localNode resolves the local node of the route, "default" is the
// default node
func (gw *GatewayServer) localNode(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var nodeId *uint8
		if param := chi.URLParam(r, "nodeId"); param != "default" {
			id, err := parseNodeId(param)
			if err != nil {
				render.Render(w, r, ErrInvalidRequest(err))
				return
			}
			nodeId = &id
		}
		node, err := gw.Local(nodeId)
		if err != nil {
			render.Render(w, r, ErrFromLevcan(err))
			return
		}
		ctx := context.WithValue(r.Context(), nodeKey{}, node)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func nodeFrom(r *http.Request) *n.Node {
	return r.Context().Value(nodeKey{}).(*n.Node)
}
