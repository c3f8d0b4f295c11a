package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/samsamfire/golevcan/pkg/gateway"
)

func (gw *GatewayServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version := gw.GetVersion()
	render.JSON(w, r, VersionResponse{Vendor: version.Vendor, ProtocolVersion: version.ProtocolVersion, Nodes: version.Nodes})
}

func (gw *GatewayServer) handleSetDefaultNode(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeId(chi.URLParam(r, "nodeId"))
	if err == nil {
		err = gw.SetDefaultNodeId(id)
	}
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.JSON(w, r, StatusResponse{Status: "OK"})
}

func (gw *GatewayServer) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []NodeResponse{}
	for _, info := range gw.Nodes() {
		nodes = append(nodes, newNodeResponse(info))
	}
	render.JSON(w, r, nodes)
}

func (gw *GatewayServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node := nodeFrom(r)
	render.JSON(w, r, newNodeResponse(gateway.NodeInfo{NodeID: node.GetID(), State: node.State().String(), ShortName: node.ShortName()}))
}

func (gw *GatewayServer) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers := []ShortNameResponse{}
	for _, peer := range nodeFrom(r).ActiveNodes() {
		peers = append(peers, newShortNameResponse(peer))
	}
	render.JSON(w, r, peers)
}

func (gw *GatewayServer) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeId(chi.URLParam(r, "peerId"))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	peer, ok := nodeFrom(r).GetNode(id)
	if !ok {
		render.Render(w, r, ErrNotFound)
		return
	}
	render.JSON(w, r, newShortNameResponse(peer))
}

func (gw *GatewayServer) handleSend(w http.ResponseWriter, r *http.Request) {
	data := &SendPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultWaitTimeout)
	defer cancel()
	err := gw.SendMessage(ctx, nodeFrom(r), *data.Target, data.msgId, data.data, data.Reliable, data.Wait)
	if err != nil {
		render.Render(w, r, ErrFromLevcan(err))
		return
	}
	render.JSON(w, r, StatusResponse{Status: "OK"})
}

func (gw *GatewayServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	data := &RequestPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	err := nodeFrom(r).SendRequest(*data.Target, data.msgId)
	if err != nil {
		render.Render(w, r, ErrFromLevcan(err))
		return
	}
	render.JSON(w, r, StatusResponse{Status: "OK"})
}
