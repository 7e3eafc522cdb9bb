package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/bulk-logistics/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore backs the coordinator with Postgres via database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the bundled schema files in lexical order.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreatePickupRequest(ctx context.Context, req *models.PickupRequest) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO pickup_requests(requesting_company, origin_company, destination_company,
			external_order_id, cost, payment_status, payment_reference, request_date)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		req.RequestingCompany, req.OriginCompany, req.DestinationCompany,
		req.OriginalExternalOrderID, req.Cost, req.PaymentStatus, req.PaymentReferenceID,
		req.RequestDate).Scan(&req.ID)
	if err != nil {
		return err
	}
	for i := range req.Items {
		item := &req.Items[i]
		item.PickupRequestID = req.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO pickup_request_items(pickup_request_id, item_name, quantity, capacity_class)
			VALUES($1,$2,$3,$4) RETURNING id`,
			req.ID, item.ItemName, item.Quantity, item.CapacityClass).Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) PickupRequestByID(ctx context.Context, id int64) (*models.PickupRequest, error) {
	reqs, err := p.queryRequests(ctx, `WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrNotFound
	}
	return &reqs[0], nil
}

func (p *PostgresStore) PickupRequestsByCompany(ctx context.Context, company string) ([]models.PickupRequest, error) {
	return p.queryRequests(ctx,
		`WHERE r.requesting_company = $1 OR r.origin_company = $1 OR r.destination_company = $1`, company)
}

func (p *PostgresStore) ConfirmPaymentByReference(ctx context.Context, paymentRef string) (*models.PickupRequest, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE pickup_requests SET payment_status = $1
		WHERE payment_reference = $2 RETURNING id`,
		models.PaymentConfirmed, paymentRef).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.PickupRequestByID(ctx, id)
}

func (p *PostgresStore) PaidUnshippedRequests(ctx context.Context) ([]models.PickupRequest, error) {
	return p.queryRequests(ctx, `
		WHERE r.payment_status = 'CONFIRMED' AND EXISTS (
			SELECT 1 FROM pickup_request_items i
			WHERE i.pickup_request_id = r.id AND i.shipment_id IS NULL)`)
}

// queryRequests loads request headers matching the WHERE clause, then
// attaches their items in one follow-up query.
func (p *PostgresStore) queryRequests(ctx context.Context, where string, args ...any) ([]models.PickupRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.requesting_company, r.origin_company, r.destination_company,
			r.external_order_id, r.cost, r.payment_status, r.payment_reference,
			r.request_date, r.completion_date
		FROM pickup_requests r `+where+` ORDER BY r.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PickupRequest
	index := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		var req models.PickupRequest
		var completion sql.NullTime
		if err := rows.Scan(&req.ID, &req.RequestingCompany, &req.OriginCompany,
			&req.DestinationCompany, &req.OriginalExternalOrderID, &req.Cost,
			&req.PaymentStatus, &req.PaymentReferenceID, &req.RequestDate, &completion); err != nil {
			return nil, err
		}
		if completion.Valid {
			t := completion.Time
			req.CompletionDate = &t
		}
		index[req.ID] = len(out)
		ids = append(ids, req.ID)
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemRows, err := p.db.QueryContext(ctx, `
		SELECT id, pickup_request_id, item_name, quantity, capacity_class, shipment_id
		FROM pickup_request_items WHERE pickup_request_id = ANY($1) ORDER BY id`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item models.RequestItem
		var shipmentID sql.NullInt64
		if err := itemRows.Scan(&item.ID, &item.PickupRequestID, &item.ItemName,
			&item.Quantity, &item.CapacityClass, &shipmentID); err != nil {
			return nil, err
		}
		if shipmentID.Valid {
			v := shipmentID.Int64
			item.ShipmentID = &v
		}
		i := index[item.PickupRequestID]
		out[i].Items = append(out[i].Items, item)
	}
	return out, itemRows.Err()
}

func (p *PostgresStore) AllVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return p.queryVehicles(ctx, ``)
}

func (p *PostgresStore) AvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return p.queryVehicles(ctx, `WHERE v.is_active`)
}

func (p *PostgresStore) queryVehicles(ctx context.Context, where string) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT v.id, v.is_active, v.daily_operational_cost, v.purchase_date,
			t.id, t.name, t.capacity_class, t.maximum_capacity,
			t.max_pickups_per_day, t.max_dropoffs_per_day, t.trip_profile
		FROM vehicles v JOIN vehicle_types t ON t.id = v.vehicle_type_id `+where+`
		ORDER BY v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.IsActive, &v.DailyOperationalCost, &v.PurchaseDate,
			&v.Type.ID, &v.Type.Name, &v.Type.CapacityClass, &v.Type.MaximumCapacity,
			&v.Type.MaxPickupsPerDay, &v.Type.MaxDropoffsPerDay, &v.Type.TripProfile); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SeedVehicles(ctx context.Context, vehicles []models.Vehicle) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	typeIDs := make(map[string]int64)
	for _, v := range vehicles {
		id, ok := typeIDs[v.Type.Name]
		if !ok {
			err = tx.QueryRowContext(ctx, `
				INSERT INTO vehicle_types(name, capacity_class, maximum_capacity,
					max_pickups_per_day, max_dropoffs_per_day, trip_profile)
				VALUES($1,$2,$3,$4,$5,$6)
				ON CONFLICT (name) DO UPDATE SET maximum_capacity = EXCLUDED.maximum_capacity
				RETURNING id`,
				v.Type.Name, v.Type.CapacityClass, v.Type.MaximumCapacity,
				v.Type.MaxPickupsPerDay, v.Type.MaxDropoffsPerDay, v.Type.TripProfile).Scan(&id)
			if err != nil {
				return err
			}
			typeIDs[v.Type.Name] = id
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vehicles(vehicle_type_id, is_active, daily_operational_cost, purchase_date)
			VALUES($1,$2,$3,$4)`,
			id, v.IsActive, v.DailyOperationalCost, v.PurchaseDate); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ActivateVehicles(ctx context.Context, before time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE vehicles SET is_active = TRUE
		WHERE NOT is_active AND purchase_date < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CommitShipmentPlan is one atomic vehicle-day commit: shipment row
// created or reused, items attached (splitting partially moved
// quantities), and fully assigned requests completed. Any failure rolls
// the whole vehicle-day back.
func (p *PostgresStore) CommitShipmentPlan(ctx context.Context, plan models.ShipmentPlan) (*models.Shipment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	shipment := &models.Shipment{
		VehicleID:    plan.Vehicle.ID,
		DispatchDate: plan.DispatchDate,
		Status:       models.ShipmentPending,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO shipments(vehicle_id, dispatch_date, status)
		VALUES($1,$2,$3)
		ON CONFLICT (vehicle_id, dispatch_date) DO UPDATE SET vehicle_id = EXCLUDED.vehicle_id
		RETURNING id, status`,
		plan.Vehicle.ID, plan.DispatchDate, models.ShipmentPending).Scan(&shipment.ID, &shipment.Status)
	if err != nil {
		return nil, err
	}

	touched := make(map[int64]bool)
	for _, planned := range plan.Items {
		touched[planned.Item.PickupRequestID] = true

		var quantity int
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM pickup_request_items
			WHERE id = $1 AND shipment_id IS NULL FOR UPDATE`,
			planned.Item.ID).Scan(&quantity)
		if errors.Is(err, sql.ErrNoRows) {
			continue // already assigned by an earlier commit
		}
		if err != nil {
			return nil, err
		}

		if planned.Quantity >= quantity {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pickup_request_items SET shipment_id = $1 WHERE id = $2`,
				shipment.ID, planned.Item.ID); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pickup_request_items SET quantity = quantity - $1 WHERE id = $2`,
			planned.Quantity, planned.Item.ID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pickup_request_items(pickup_request_id, item_name, quantity, capacity_class, shipment_id)
			VALUES($1,$2,$3,$4,$5)`,
			planned.Item.PickupRequestID, planned.Item.ItemName, planned.Quantity,
			planned.Item.CapacityClass, shipment.ID); err != nil {
			return nil, err
		}
	}

	for reqID := range touched {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pickup_requests SET completion_date = $1
			WHERE id = $2 AND completion_date IS NULL AND NOT EXISTS (
				SELECT 1 FROM pickup_request_items i
				WHERE i.pickup_request_id = $2 AND i.shipment_id IS NULL)`,
			plan.DispatchDate, reqID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return shipment, nil
}

func (p *PostgresStore) ShipmentByID(ctx context.Context, id int64) (*models.Shipment, error) {
	var s models.Shipment
	err := p.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, dispatch_date, status FROM shipments WHERE id = $1`, id).
		Scan(&s.ID, &s.VehicleID, &s.DispatchDate, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) ShipmentItems(ctx context.Context, shipmentID int64) ([]models.RequestItem, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, pickup_request_id, item_name, quantity, capacity_class, shipment_id
		FROM pickup_request_items WHERE shipment_id = $1 ORDER BY id`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RequestItem
	for rows.Next() {
		var item models.RequestItem
		var sid sql.NullInt64
		if err := rows.Scan(&item.ID, &item.PickupRequestID, &item.ItemName,
			&item.Quantity, &item.CapacityClass, &sid); err != nil {
			return nil, err
		}
		if sid.Valid {
			v := sid.Int64
			item.ShipmentID = &v
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DispatchDueShipments(ctx context.Context, date time.Time) ([]models.Shipment, error) {
	return p.queryShipments(ctx,
		`WHERE status = 'PENDING' AND dispatch_date <= $1`, date)
}

func (p *PostgresStore) DeliveryDueShipments(ctx context.Context, date time.Time) ([]models.Shipment, error) {
	return p.queryShipments(ctx,
		`WHERE status = 'PICKED_UP' AND dispatch_date < $1`, date)
}

func (p *PostgresStore) ListShipments(ctx context.Context, status models.ShipmentStatus) ([]models.Shipment, error) {
	if status == "" {
		return p.queryShipments(ctx, ``)
	}
	return p.queryShipments(ctx, `WHERE status = $1`, status)
}

func (p *PostgresStore) queryShipments(ctx context.Context, where string, args ...any) ([]models.Shipment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, vehicle_id, dispatch_date, status FROM shipments `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Shipment
	for rows.Next() {
		var s models.Shipment
		if err := rows.Scan(&s.ID, &s.VehicleID, &s.DispatchDate, &s.Status); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateShipmentStatus(ctx context.Context, id int64, status models.ShipmentStatus) (*models.Shipment, error) {
	current, err := p.ShipmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !validTransition(current.Status, status) {
		return nil, ErrInvalidTransition
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE shipments SET status = $1 WHERE id = $2 AND status = $3`,
		status, id, current.Status)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidTransition
	}
	current.Status = status
	return current, nil
}

func (p *PostgresStore) RecordTransaction(ctx context.Context, bn *models.BankNotification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bank_transactions(transaction_number, status, amount, ts, from_account, to_account, description)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		bn.TransactionNumber, bn.Status, bn.Amount, bn.Timestamp, bn.From, bn.To, bn.Description)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateTransaction
	}
	return err
}

func (p *PostgresStore) Transactions(ctx context.Context) ([]models.BankNotification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT transaction_number, status, amount, ts, from_account, to_account, description
		FROM bank_transactions ORDER BY ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BankNotification
	for rows.Next() {
		var tx models.BankNotification
		if err := rows.Scan(&tx.TransactionNumber, &tx.Status, &tx.Amount, &tx.Timestamp,
			&tx.From, &tx.To, &tx.Description); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) EnqueueNotification(ctx context.Context, n models.LogisticsNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO notifications_queue(payload) VALUES($1)`, payload)
	return err
}

func (p *PostgresStore) PendingNotifications(ctx context.Context, limit int) ([]QueuedNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payload, attempts, last_error, next_attempt_at, created_at FROM notifications_queue
		WHERE attempts < $1 AND next_attempt_at <= now()
		ORDER BY next_attempt_at, id LIMIT $2`, maxNotificationAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedNotification
	for rows.Next() {
		var q QueuedNotification
		var payload []byte
		if err := rows.Scan(&q.ID, &payload, &q.Attempts, &q.LastError, &q.NextAttemptAt, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &q.Payload); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM notifications_queue WHERE id = $1`, id)
	return err
}

// MarkNotificationFailed reschedules the row with an exponentially
// growing delay, matching nextBackoff.
func (p *PostgresStore) MarkNotificationFailed(ctx context.Context, id int64, reason string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE notifications_queue
		SET attempts = attempts + 1,
		    last_error = $1,
		    next_attempt_at = now() + make_interval(secs => least(power(2, attempts + 1), 600))
		WHERE id = $2`,
		reason, id)
	return err
}
