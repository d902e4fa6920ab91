// Package network implements the inspection and control HTTP API over a
// running simulator.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/internal/config"
	"github.com/chainspan/go-chainspan/pkg/attestor"
	"github.com/chainspan/go-chainspan/pkg/bridge"
	"github.com/chainspan/go-chainspan/pkg/netcond"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// RPCServer serves the simulator's inspection and control endpoints.
type RPCServer struct {
	router     *mux.Router
	sim        *bridge.Simulator
	httpServer *http.Server
	config     config.RPCConfig
	logger     *zap.Logger
}

// RPCResponse is the standardized response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a failed request's status and cause.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRPCServer creates the server over a simulator.
func NewRPCServer(sim *bridge.Simulator, cfg config.RPCConfig, logger *zap.Logger) *RPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RPCServer{
		router: mux.NewRouter(),
		sim:    sim,
		config: cfg,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the routing tree, mainly for httptest.
func (s *RPCServer) Handler() http.Handler {
	return s.router
}

// Start begins serving on the configured listen address.
func (s *RPCServer) Start() error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		Addr:         s.config.ListenAddr,
		ReadTimeout:  time.Duration(s.config.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(s.config.WriteTimeoutMs) * time.Millisecond,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *RPCServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *RPCServer) setupRoutes() {
	// Chain state routes
	s.router.HandleFunc("/chain/{id}/state", s.logging(s.handleChainState)).Methods("GET")
	s.router.HandleFunc("/chain/{id}/pending", s.logging(s.handlePendingMessages)).Methods("GET")
	s.router.HandleFunc("/chain/{id}/congestion", s.logging(s.handleSetCongestion)).Methods("POST")
	s.router.HandleFunc("/chain/{id}/gasprice", s.logging(s.handleGasPrice)).Methods("GET")

	// Message routes
	s.router.HandleFunc("/transfer", s.logging(s.handleTransfer)).Methods("POST")
	s.router.HandleFunc("/message/{hash}", s.logging(s.handleMessage)).Methods("GET")

	// Attestor routes
	s.router.HandleFunc("/attestors", s.logging(s.handleAttestors)).Methods("GET")
	s.router.HandleFunc("/attestor/{id}/fault", s.logging(s.handleInjectFault)).Methods("POST")
	s.router.HandleFunc("/attestors/reset", s.logging(s.handleResetFaults)).Methods("POST")

	// Conservation route
	s.router.HandleFunc("/consistency", s.logging(s.handleConsistency)).Methods("GET")
}

// Chain state handlers

func (s *RPCServer) handleChainState(w http.ResponseWriter, r *http.Request) {
	chain := types.ChainID(mux.Vars(r)["id"])
	snap, err := s.sim.ChainState(chain)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "chain not found", err)
		return
	}
	s.writeSuccess(w, snap)
}

func (s *RPCServer) handlePendingMessages(w http.ResponseWriter, r *http.Request) {
	chain := types.ChainID(mux.Vars(r)["id"])
	pending, err := s.sim.PendingMessages(chain)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "chain not found", err)
		return
	}
	views := make([]types.MessageView, 0, len(pending))
	for _, msg := range pending {
		views = append(views, msg.View())
	}
	s.writeSuccess(w, views)
}

func (s *RPCServer) handleSetCongestion(w http.ResponseWriter, r *http.Request) {
	chain := types.ChainID(mux.Vars(r)["id"])
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request format", err)
		return
	}
	level, err := netcond.LevelFromString(req.Level)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid congestion level", err)
		return
	}
	if err := s.sim.SetCongestion(chain, level); err != nil {
		s.writeError(w, http.StatusNotFound, "chain not found", err)
		return
	}
	s.writeSuccess(w, map[string]string{
		"chain": string(chain),
		"level": level.String(),
	})
}

func (s *RPCServer) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	chain := types.ChainID(mux.Vars(r)["id"])
	price, err := s.sim.GasPrice(chain)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "chain not found", err)
		return
	}
	s.writeSuccess(w, map[string]interface{}{
		"chain":    string(chain),
		"gasPrice": price,
	})
}

// Message handlers

func (s *RPCServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Protocol    string `json:"protocol"`
		SourceChain string `json:"sourceChain"`
		DestChain   string `json:"destChain"`
		Sender      string `json:"sender"`
		Recipient   string `json:"recipient"`
		Amount      uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request format", err)
		return
	}
	protocol, err := types.ProtocolFromString(req.Protocol)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid protocol", err)
		return
	}
	sender, err := types.AddressFromString(req.Sender)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sender address", err)
		return
	}
	recipient, err := types.AddressFromString(req.Recipient)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid recipient address", err)
		return
	}

	msg, err := s.sim.Transfer(r.Context(), protocol,
		types.ChainID(req.SourceChain), types.ChainID(req.DestChain),
		sender, recipient, req.Amount)
	if err != nil {
		// Soft failures still produced a message handle worth returning.
		var data interface{}
		if msg != nil {
			data = msg.View()
		}
		s.writeError(w, http.StatusUnprocessableEntity, err.Error(), data)
		return
	}
	s.writeSuccess(w, msg.View())
}

func (s *RPCServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	hash, err := types.HashFromString(mux.Vars(r)["hash"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message hash", err)
		return
	}
	msg, ok := s.sim.Message(hash)
	if !ok {
		s.writeError(w, http.StatusNotFound, "message not found", nil)
		return
	}
	s.writeSuccess(w, msg.View())
}

// Attestor handlers

func (s *RPCServer) handleAttestors(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, s.sim.AttestorStats())
}

func (s *RPCServer) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request format", err)
		return
	}
	mode, err := attestor.FaultModeFromString(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid fault mode", err)
		return
	}
	if err := s.sim.InjectAttestorFault(id, mode); err != nil {
		s.writeError(w, http.StatusNotFound, "attestor not found", err)
		return
	}
	s.writeSuccess(w, map[string]string{
		"attestor": id,
		"mode":     mode.String(),
	})
}

func (s *RPCServer) handleResetFaults(w http.ResponseWriter, r *http.Request) {
	s.sim.ClearAttestorFaults()
	s.writeSuccess(w, map[string]string{"status": "reset"})
}

// Conservation handler

func (s *RPCServer) handleConsistency(w http.ResponseWriter, r *http.Request) {
	expected, err := parseUint64(r.URL.Query().Get("expected"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid expected aggregate", err)
		return
	}
	s.writeSuccess(w, s.sim.ValidateConsistency(expected))
}

// Helper methods

func (s *RPCServer) writeSuccess(w http.ResponseWriter, result interface{}) {
	response := RPCResponse{
		JSONRPC: "2.0",
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *RPCServer) writeError(w http.ResponseWriter, status int, message string, data interface{}) {
	rpcError := &RPCError{
		Code:    status,
		Message: message,
	}
	switch v := data.(type) {
	case error:
		rpcError.Data = v.Error()
	default:
		rpcError.Data = v
	}
	response := RPCResponse{
		JSONRPC: "2.0",
		Error:   rpcError,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func parseUint64(s string) (uint64, error) {
	var value uint64
	if _, err := fmt.Sscanf(s, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid uint64 value: %s", s)
	}
	return value, nil
}

// Middleware

func (s *RPCServer) logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		s.logger.Debug("rpc request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	}
}
