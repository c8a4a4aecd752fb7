package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ShieldVault/internal/ingestion"
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/observability"
	"ShieldVault/internal/persistence"
	"ShieldVault/internal/projection"
	"ShieldVault/internal/query"
)

// VaultServer hosts the gRPC endpoint (health + reflection) and the
// HTTP/JSON API. The HTTP side is served from a gRPC-Gateway mux with
// per-route handlers over the query and ingest services.
type VaultServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	deps          *ServerDeps
}

// ServerDeps holds the services the HTTP routes are built over.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
}

func NewVaultServer(grpcAddr, httpAddr string, deps *ServerDeps) *VaultServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &VaultServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
		deps:          deps,
	}
}

// SetServing flips the gRPC health status once recovery completes.
func (s *VaultServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *VaultServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *VaultServer) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP API shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *VaultServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/vault", s.handleVaultStats},
		{"GET", "/v1/positions/{user}", s.handlePosition},
		{"GET", "/v1/positions/{user}/accrue", s.handleAccrue},
		{"GET", "/v1/bridge/{user}", s.handleBridge},
		{"GET", "/v1/compliance/{user}", s.handleAttestation},
		{"POST", "/v1/deposits", s.handleInjectDeposit},
		{"GET", "/v1/admin/integrity", s.handleIntegrity},
		{"GET", "/v1/admin/log", s.handleLogInfo},
		{"POST", "/v1/admin/pause", s.handlePause},
		{"POST", "/v1/admin/unpause", s.handleUnpause},
		{"POST", "/v1/admin/yield", s.handleYieldUpdate},
		{"POST", "/v1/admin/rewards", s.handleRewardDeposit},
		{"POST", "/v1/admin/projections/reset", s.handleProjectionReset},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// --- query routes ---

func (s *VaultServer) handleVaultStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	stats, err := s.deps.QueryService.GetVaultStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *VaultServer) handlePosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := pathUUID(w, params, "user")
	if !ok {
		return
	}
	pos, err := s.deps.QueryService.GetPosition(r.Context(), owner)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *VaultServer) handleAccrue(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := pathUUID(w, params, "user")
	if !ok {
		return
	}
	view, err := s.deps.QueryService.AccrueView(r.Context(), owner, time.Now())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *VaultServer) handleBridge(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := pathUUID(w, params, "user")
	if !ok {
		return
	}
	br, err := s.deps.QueryService.GetBridgeRequest(r.Context(), owner)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, br)
}

func (s *VaultServer) handleAttestation(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, ok := pathUUID(w, params, "user")
	if !ok {
		return
	}
	at, err := s.deps.QueryService.GetAttestation(r.Context(), owner)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, at)
}

// --- ingest routes ---

type injectDepositRequest struct {
	UserID           string `json:"user_id"`
	Amount           int64  `json:"amount"`
	AmountCommitment string `json:"amount_commitment"`
}

func (s *VaultServer) handleInjectDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req injectDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("user_id: %w", err))
		return
	}

	raw, err := hex.DecodeString(req.AmountCommitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount_commitment: %w", err))
		return
	}
	commitment, err := ledger.ParseCommitment(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.IngestService.InjectDeposit(r.Context(), userID, req.Amount, commitment); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- admin routes ---

type adminRequest struct {
	AdminID  string `json:"admin_id"`
	YieldBps uint16 `json:"yield_bps,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
}

func (s *VaultServer) decodeAdmin(w http.ResponseWriter, r *http.Request) (adminRequest, uuid.UUID, bool) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return req, uuid.Nil, false
	}
	adminID, err := uuid.Parse(req.AdminID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("admin_id: %w", err))
		return req, uuid.Nil, false
	}
	return req, adminID, true
}

func (s *VaultServer) handlePause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	_, adminID, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.deps.IngestService.InjectPause(r.Context(), adminID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *VaultServer) handleUnpause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	_, adminID, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.deps.IngestService.InjectUnpause(r.Context(), adminID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *VaultServer) handleYieldUpdate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, adminID, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.deps.IngestService.InjectYieldUpdate(r.Context(), adminID, req.YieldBps); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *VaultServer) handleRewardDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, adminID, ok := s.decodeAdmin(w, r)
	if !ok {
		return
	}
	if err := s.deps.IngestService.InjectRewardDeposit(r.Context(), adminID, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *VaultServer) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *VaultServer) handleLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	latest, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	nullifiers, err := s.deps.SnapshotMgr.LoadNullifierCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	watermark, err := projection.Watermark(r.Context(), s.deps.DB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"latest_sequence":      latest,
		"consumed_nullifiers":  nullifiers,
		"projection_watermark": watermark,
	})
}

func (s *VaultServer) handleProjectionReset(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.ResetProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"reset": true})
}

// --- helpers ---

func pathUUID(w http.ResponseWriter, params map[string]string, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(params[key])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", key, err))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeQueryError(w http.ResponseWriter, err error) {
	if err == query.ErrNotFound {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
