package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/example/bulk-logistics/internal/autonomy"
	"github.com/example/bulk-logistics/internal/costing"
	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/notify"
	"github.com/example/bulk-logistics/internal/simclock"
	"github.com/example/bulk-logistics/internal/storage"
)

// Config carries the handler-level knobs.
type Config struct {
	CompanyName    string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	store   storage.Store
	cost    *costing.Calculator
	sim     *autonomy.Service
	clock   *simclock.SimClock
	wsreg   *notify.WSRegistry
	company string
	logger  *slog.Logger
	limiter *rate.Limiter
	router  *mux.Router
}

func NewServer(cfg Config, store storage.Store, cost *costing.Calculator,
	sim *autonomy.Service, clock *simclock.SimClock, wsreg *notify.WSRegistry,
	logger *slog.Logger) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitRPS) * 2
	}
	s := &Server{
		store:   store,
		cost:    cost,
		sim:     sim,
		clock:   clock,
		wsreg:   wsreg,
		company: cfg.CompanyName,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		router:  mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/pickup-request", s.handleCreatePickupRequest).Methods("POST")
	s.router.HandleFunc("/api/pickup-request/{id:[0-9]+}", s.handleGetPickupRequest).Methods("GET")
	s.router.HandleFunc("/api/pickup-request/company/{name}", s.handleRequestsByCompany).Methods("GET")
	s.router.HandleFunc("/api/bank-notification", s.handleBankNotification).Methods("POST")
	s.router.HandleFunc("/api/shipments", s.handleListShipments).Methods("GET")
	s.router.HandleFunc("/api/shipments/{id:[0-9]+}", s.handleGetShipment).Methods("GET")
	s.router.HandleFunc("/api/transactions", s.handleListTransactions).Methods("GET")
	s.router.HandleFunc("/api/simulation/start", s.handleSimulationStart).Methods("POST")
	s.router.HandleFunc("/api/simulation/stop", s.handleSimulationStop).Methods("POST")
	s.router.HandleFunc("/api/simulation/time", s.handleSimulationTime).Methods("GET")
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleCreatePickupRequest(w http.ResponseWriter, r *http.Request) {
	var input models.PickupRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if problems := validatePickupRequest(&input); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": problems})
		return
	}

	requestDate := time.Now().UTC()
	if d, err := s.clock.CurrentDate(); err == nil {
		requestDate = d
	}

	cost := s.cost.QuoteDeliveryCost(r.Context(), input.Items)
	req := &models.PickupRequest{
		RequestingCompany:       requestingCompany(&input),
		OriginCompany:           input.OriginCompany,
		DestinationCompany:      input.DestinationCompany,
		OriginalExternalOrderID: input.OriginalExternalOrderID,
		Cost:                    cost,
		PaymentStatus:           models.PaymentPending,
		PaymentReferenceID:      uuid.NewString(),
		RequestDate:             requestDate,
		Items:                   buildItems(input.Items),
	}
	if err := s.store.CreatePickupRequest(r.Context(), req); err != nil {
		s.logger.Error("create pickup request", "error", err)
		http.Error(w, "could not store request", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"pickupRequestId":    req.ID,
		"cost":               req.Cost,
		"paymentReferenceId": req.PaymentReferenceID,
		"accountNumber":      s.company,
		"status":             req.PaymentStatus,
	})
}

func (s *Server) handleGetPickupRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	req, err := s.store.PickupRequestByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "pickup request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("fetch pickup request", "id", id, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestsByCompany(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	reqs, err := s.store.PickupRequestsByCompany(r.Context(), name)
	if err != nil {
		s.logger.Error("fetch requests by company", "company", name, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// handleBankNotification is the bank's transaction webhook. A SUCCESS
// transaction into our account whose description carries a payment
// reference confirms the matching pickup request.
func (s *Server) handleBankNotification(w http.ResponseWriter, r *http.Request) {
	var bn models.BankNotification
	if err := json.NewDecoder(r.Body).Decode(&bn); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bn.TransactionNumber == "" || bn.From == "" || bn.To == "" || bn.Amount <= 0 {
		http.Error(w, "missing transaction fields", http.StatusBadRequest)
		return
	}
	if bn.To != s.company && bn.From != s.company {
		http.Error(w, "transaction does not involve this account", http.StatusForbidden)
		return
	}

	if err := s.store.RecordTransaction(r.Context(), &bn); err != nil {
		if errors.Is(err, storage.ErrDuplicateTransaction) {
			http.Error(w, "transaction already processed", http.StatusConflict)
			return
		}
		s.logger.Error("record bank transaction", "txn", bn.TransactionNumber, "error", err)
		http.Error(w, "could not record transaction", http.StatusInternalServerError)
		return
	}

	confirmed := false
	if strings.EqualFold(bn.Status, "SUCCESS") && bn.To == s.company {
		ref := strings.TrimSpace(bn.Description)
		if ref != "" {
			_, err := s.store.ConfirmPaymentByReference(r.Context(), ref)
			switch {
			case err == nil:
				confirmed = true
			case errors.Is(err, storage.ErrNotFound):
				s.logger.Warn("payment for unknown reference", "reference", ref, "txn", bn.TransactionNumber)
			default:
				s.logger.Error("confirm payment", "reference", ref, "error", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received":         true,
		"paymentConfirmed": confirmed,
	})
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	status := models.ShipmentStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", models.ShipmentPending, models.ShipmentPickedUp, models.ShipmentDelivered:
	default:
		http.Error(w, "unknown status filter", http.StatusBadRequest)
		return
	}
	shipments, err := s.store.ListShipments(r.Context(), status)
	if err != nil {
		s.logger.Error("list shipments", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shipments)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.store.Transactions(r.Context())
	if err != nil {
		s.logger.Error("list transactions", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	var total float64
	for _, tx := range txs {
		total += tx.Amount
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(txs),
		"totalAmount":  total,
		"transactions": txs,
	})
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	shipment, err := s.store.ShipmentByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "shipment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	items, err := s.store.ShipmentItems(r.Context(), id)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipment": shipment, "items": items})
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		http.Error(w, "simulation not configured", http.StatusServiceUnavailable)
		return
	}
	if !s.sim.Start(context.Background()) {
		http.Error(w, "simulation already running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true, "startDate": simclock.SimStartDate})
}

func (s *Server) handleSimulationStop(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil || !s.sim.Stop() {
		http.Error(w, "simulation not running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleSimulationTime(w http.ResponseWriter, r *http.Request) {
	date, err := s.clock.CurrentDate()
	if err != nil {
		http.Error(w, "simulation not running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currentDate": date.Format("2006-01-02")})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsreg == nil {
		http.Error(w, "websocket feed disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	session := s.wsreg.Add(conn)
	// reader loop only to observe disconnects
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsreg.Remove(session)
				return
			}
		}
	}()
}

func requestingCompany(input *models.PickupRequestInput) string {
	if input.RequestingCompany != "" {
		return input.RequestingCompany
	}
	return input.DestinationCompany
}

func buildItems(items []models.ItemRequest) []models.RequestItem {
	out := make([]models.RequestItem, 0, len(items))
	for _, it := range items {
		out = append(out, models.RequestItem{
			ItemName:      it.ItemName,
			Quantity:      it.Quantity,
			CapacityClass: classFor(it),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
