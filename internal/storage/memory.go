package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

const maxNotificationAttempts = 10

// MemoryStore keeps everything in process memory. Used by tests and for
// running the coordinator locally without Postgres.
type MemoryStore struct {
	mu sync.RWMutex

	requests map[int64]*models.PickupRequest
	vehicles map[int64]models.Vehicle

	// shipments keyed by id, plus a (vehicleID, day) index for the
	// create-or-reuse commit semantics.
	shipments    map[int64]*models.Shipment
	shipmentKeys map[shipmentKey]int64
	assignments  map[int64][]int64 // shipment id -> item ids

	transactions  map[string]models.BankNotification
	notifications []*QueuedNotification

	// now is swapped out by tests exercising retry scheduling.
	now func() time.Time

	nextRequestID  int64
	nextItemID     int64
	nextShipmentID int64
	nextQueueID    int64
}

type shipmentKey struct {
	vehicleID int64
	day       string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:     make(map[int64]*models.PickupRequest),
		vehicles:     make(map[int64]models.Vehicle),
		shipments:    make(map[int64]*models.Shipment),
		shipmentKeys: make(map[shipmentKey]int64),
		assignments:  make(map[int64][]int64),
		transactions: make(map[string]models.BankNotification),
		now:          time.Now,
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (m *MemoryStore) CreatePickupRequest(_ context.Context, req *models.PickupRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRequestID++
	req.ID = m.nextRequestID
	for i := range req.Items {
		m.nextItemID++
		req.Items[i].ID = m.nextItemID
		req.Items[i].PickupRequestID = req.ID
	}
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *MemoryStore) PickupRequestByID(_ context.Context, id int64) (*models.PickupRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(req), nil
}

func (m *MemoryStore) PickupRequestsByCompany(_ context.Context, company string) ([]models.PickupRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PickupRequest
	for _, req := range m.requests {
		if req.RequestingCompany == company || req.OriginCompany == company || req.DestinationCompany == company {
			out = append(out, *copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ConfirmPaymentByReference(_ context.Context, paymentRef string) (*models.PickupRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.PaymentReferenceID == paymentRef {
			req.PaymentStatus = models.PaymentConfirmed
			return copyRequest(req), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PaidUnshippedRequests(_ context.Context) ([]models.PickupRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PickupRequest
	for _, req := range m.requests {
		if req.PaymentStatus == models.PaymentConfirmed && req.Unassigned() {
			out = append(out, *copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AllVehicles(_ context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	all, err := m.AllVehicles(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) SeedVehicles(_ context.Context, vehicles []models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vehicles {
		m.vehicles[v.ID] = v
	}
	return nil
}

func (m *MemoryStore) ActivateVehicles(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, v := range m.vehicles {
		if !v.IsActive && v.PurchaseDate.Before(before) {
			v.IsActive = true
			m.vehicles[id] = v
			n++
		}
	}
	return n, nil
}

// CommitShipmentPlan applies one vehicle-day plan: reuse or create the
// shipment row, attach the planned quantities to it, and complete any
// request whose items are now all assigned. Partially seated items are
// split so the moved quantity references the shipment and the remainder
// stays in the pool.
func (m *MemoryStore) CommitShipmentPlan(_ context.Context, plan models.ShipmentPlan) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := shipmentKey{vehicleID: plan.Vehicle.ID, day: dayKey(plan.DispatchDate)}
	id, ok := m.shipmentKeys[key]
	if !ok {
		m.nextShipmentID++
		id = m.nextShipmentID
		m.shipmentKeys[key] = id
		m.shipments[id] = &models.Shipment{
			ID:           id,
			VehicleID:    plan.Vehicle.ID,
			DispatchDate: plan.DispatchDate,
			Status:       models.ShipmentPending,
		}
	}
	shipment := m.shipments[id]

	touched := make(map[int64]bool)
	for _, planned := range plan.Items {
		req, ok := m.requests[planned.Item.PickupRequestID]
		if !ok {
			continue
		}
		touched[req.ID] = true
		for i := range req.Items {
			item := &req.Items[i]
			if item.ID != planned.Item.ID || item.ShipmentID != nil {
				continue
			}
			if planned.Quantity >= item.Quantity {
				item.ShipmentID = &id
				m.assignments[id] = append(m.assignments[id], item.ID)
				break
			}
			// partial: split off the moved quantity
			item.Quantity -= planned.Quantity
			m.nextItemID++
			moved := models.RequestItem{
				ID:              m.nextItemID,
				PickupRequestID: req.ID,
				ItemName:        item.ItemName,
				Quantity:        planned.Quantity,
				CapacityClass:   item.CapacityClass,
				ShipmentID:      &id,
			}
			req.Items = append(req.Items, moved)
			m.assignments[id] = append(m.assignments[id], moved.ID)
			break
		}
	}

	for reqID := range touched {
		req := m.requests[reqID]
		if !req.Unassigned() && req.CompletionDate == nil {
			done := plan.DispatchDate
			req.CompletionDate = &done
		}
	}

	out := *shipment
	return &out, nil
}

func (m *MemoryStore) ShipmentByID(_ context.Context, id int64) (*models.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) ShipmentItems(_ context.Context, shipmentID int64) ([]models.RequestItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.shipments[shipmentID]; !ok {
		return nil, ErrNotFound
	}
	ids := make(map[int64]bool, len(m.assignments[shipmentID]))
	for _, id := range m.assignments[shipmentID] {
		ids[id] = true
	}
	var out []models.RequestItem
	for _, req := range m.requests {
		for _, item := range req.Items {
			if ids[item.ID] {
				out = append(out, item)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DispatchDueShipments(_ context.Context, date time.Time) ([]models.Shipment, error) {
	return m.shipmentsWhere(func(s *models.Shipment) bool {
		return s.Status == models.ShipmentPending && !s.DispatchDate.After(date)
	})
}

func (m *MemoryStore) DeliveryDueShipments(_ context.Context, date time.Time) ([]models.Shipment, error) {
	return m.shipmentsWhere(func(s *models.Shipment) bool {
		return s.Status == models.ShipmentPickedUp && s.DispatchDate.Before(date)
	})
}

func (m *MemoryStore) ListShipments(_ context.Context, status models.ShipmentStatus) ([]models.Shipment, error) {
	return m.shipmentsWhere(func(s *models.Shipment) bool {
		return status == "" || s.Status == status
	})
}

func (m *MemoryStore) shipmentsWhere(keep func(*models.Shipment) bool) ([]models.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Shipment
	for _, s := range m.shipments {
		if keep(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateShipmentStatus(_ context.Context, id int64, status models.ShipmentStatus) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !validTransition(s.Status, status) {
		return nil, ErrInvalidTransition
	}
	s.Status = status
	out := *s
	return &out, nil
}

func (m *MemoryStore) RecordTransaction(_ context.Context, tx *models.BankNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.TransactionNumber]; ok {
		return ErrDuplicateTransaction
	}
	m.transactions[tx.TransactionNumber] = *tx
	return nil
}

func (m *MemoryStore) Transactions(_ context.Context) ([]models.BankNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BankNotification, 0, len(m.transactions))
	for _, tx := range m.transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) EnqueueNotification(_ context.Context, n models.LogisticsNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQueueID++
	now := m.now().UTC()
	m.notifications = append(m.notifications, &QueuedNotification{
		ID:            m.nextQueueID,
		Payload:       n,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return nil
}

func (m *MemoryStore) PendingNotifications(_ context.Context, limit int) ([]QueuedNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []QueuedNotification
	for _, q := range m.notifications {
		if q.Attempts >= maxNotificationAttempts || q.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *q)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.notifications {
		if q.ID == id {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) MarkNotificationFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.notifications {
		if q.ID == id {
			q.Attempts++
			q.LastError = reason
			q.NextAttemptAt = m.now().UTC().Add(nextBackoff(q.Attempts))
			return nil
		}
	}
	return ErrNotFound
}

func copyRequest(req *models.PickupRequest) *models.PickupRequest {
	out := *req
	out.Items = make([]models.RequestItem, len(req.Items))
	copy(out.Items, req.Items)
	for i := range out.Items {
		if req.Items[i].ShipmentID != nil {
			v := *req.Items[i].ShipmentID
			out.Items[i].ShipmentID = &v
		}
	}
	if req.CompletionDate != nil {
		v := *req.CompletionDate
		out.CompletionDate = &v
	}
	return &out
}
