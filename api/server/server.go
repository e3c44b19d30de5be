package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"srishti/core/audit"
	"srishti/core/auth"
	"srishti/core/chain"
	"srishti/core/event"
	"srishti/core/karma"
	"srishti/core/mempool"
)

// Server is the node's HTTP API: status and health for operators, event
// submission for clients, and block/header/proof endpoints for peers and
// light clients.
type Server struct {
	chainRef *chain.Chain
	pool     *mempool.Mempool
	karmaMgr *karma.Manager
	verifier *auth.Verifier
	auditor  audit.Logger
	log      *logrus.Logger

	nodeID string
	httpd  *http.Server
}

// New wires the API. verifier may be nil, which locks out every
// authority-gated submission rather than letting it through unchecked.
func New(nodeID string, c *chain.Chain, pool *mempool.Mempool, km *karma.Manager,
	verifier *auth.Verifier, auditor audit.Logger, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Server{
		chainRef: c,
		pool:     pool,
		karmaMgr: km,
		verifier: verifier,
		auditor:  auditor,
		log:      log,
		nodeID:   nodeID,
	}
}

// Routes builds the handler mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/submit_event", s.handleSubmitEvent)
	mux.HandleFunc("/blocks", s.handleBlocks)
	mux.HandleFunc("/headers", s.handleHeaders)
	mux.HandleFunc("/block/", s.handleBlockByIndex)
	mux.HandleFunc("/proof", s.handleProof)
	mux.HandleFunc("/balance/", s.handleBalance)
	mux.HandleFunc("/nodes", s.handleNodes)
	return mux
}

// Start serves the API on port, blocking until shutdown.
func (s *Server) Start(port int) error {
	s.httpd = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.WithField("port", port).Info("[API] serving")
	err := s.httpd.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down.
func (s *Server) Close() error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Close()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"valid": false, "error": msg})
}

type statusResponse struct {
	NodeID  string `json:"nodeId"`
	Height  int    `json:"height"`
	TipHash string `json:"tipHash"`
	Pending int    `json:"pendingEvents"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{NodeID: s.nodeID, Height: s.chainRef.Height()}
	if tip, ok := s.chainRef.Tip(); ok {
		resp.TipHash = tip.Hash
	}
	if s.pool != nil {
		resp.Pending = s.pool.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitEvent accepts one event for mempool inclusion. The body is
// schema-validated, then structurally validated, and authority-gated types
// additionally need a governance token carrying a sufficient role. Rejections
// always carry a reason.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := ValidateEventPayload(raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := event.Deserialize(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := event.Validate(ev); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if requiredRoles, gated := apiGatedTypes[ev.Type]; gated {
		if err := s.authorize(r, requiredRoles); err != nil {
			s.auditor.Log(audit.Entry{
				Category: "api_submit",
				Actor:    ev.Sender,
				Outcome:  "unauthorized",
				Reason:   err.Error(),
			})
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}
	if s.pool == nil || !s.pool.Add(ev) {
		writeError(w, http.StatusConflict, "duplicate or pool full")
		return
	}
	hash, _ := ev.Hash()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"valid": true, "eventHash": hash})
}

// apiGatedTypes lists submission types needing a governance token at the API
// edge. The chain re-checks authority against derived roles at append time;
// this gate only keeps junk out of the mempool.
var apiGatedTypes = map[event.Type][]string{
	event.TypeInstitutionVerify: {string(event.RoleRoot), string(event.RoleGovernanceAdmin)},
	event.TypeInstitutionRevoke: {string(event.RoleRoot)},
	event.TypeGovProposal:       {string(event.RoleRoot), string(event.RoleGovernanceAdmin), string(event.RoleInstitution)},
	event.TypeSoulboundMint:     {string(event.RoleInstitution)},
}

func (s *Server) authorize(r *http.Request, roles []string) error {
	if s.verifier == nil {
		return fmt.Errorf("governance verification not configured")
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	claims, err := s.verifier.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return fmt.Errorf("invalid governance token: %w", err)
	}
	if !claims.HasRole(roles...) {
		return fmt.Errorf("token lacks required role (%s)", strings.Join(roles, "/"))
	}
	return nil
}

func parseFrom(r *http.Request) int {
	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil || from < 0 {
		return 0
	}
	return from
}

const maxBatch = 500

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := s.chainRef.Blocks()
	from := parseFrom(r)
	if from > len(blocks) {
		from = len(blocks)
	}
	end := from + maxBatch
	if end > len(blocks) {
		end = len(blocks)
	}
	writeJSON(w, http.StatusOK, blocks[from:end])
}

func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := s.chainRef.Headers()
	from := parseFrom(r)
	if from > len(headers) {
		from = len(headers)
	}
	end := from + maxBatch
	if end > len(headers) {
		end = len(headers)
	}
	writeJSON(w, http.StatusOK, headers[from:end])
}

func (s *Server) handleBlockByIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/block/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad block index")
		return
	}
	blk, err := s.chainRef.GetBlock(index)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	blockIndex, err1 := strconv.Atoi(r.URL.Query().Get("block"))
	txIndex, err2 := strconv.Atoi(r.URL.Query().Get("tx"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "block and tx query params required")
		return
	}
	proof, header, err := s.chainRef.GenerateMerkleProof(blockIndex, txIndex)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proof": proof, "header": header})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	nodeID := strings.TrimPrefix(r.URL.Path, "/balance/")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "node id required")
		return
	}
	resp := map[string]interface{}{
		"nodeId":  nodeID,
		"balance": s.chainRef.GetBalance(nodeID),
	}
	if s.karmaMgr != nil {
		resp["pending"] = s.karmaMgr.PendingAmount(nodeID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chainRef.BuildNodeMap())
}
