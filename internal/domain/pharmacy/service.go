package pharmacy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/gate"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/records"
	"github.com/hms/hms/internal/platform/clock"
	"github.com/hms/hms/internal/platform/db"
)

// GateBlockedError carries the gate's refusal out of pack processing.
type GateBlockedError struct {
	Decision gate.Decision
}

func (e *GateBlockedError) Error() string {
	if e.Decision.Reason != "" {
		return e.Decision.Reason
	}
	return fmt.Sprintf("pack order blocked by gate: %s", e.Decision.Kind)
}

// OrderStatusError reports a disallowed pack-order status transition.
type OrderStatusError struct {
	OrderID  uuid.UUID
	From, To PackOrderStatus
}

func (e *OrderStatusError) Error() string {
	return fmt.Sprintf("pack order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

// Gatekeeper is the slice of the service gate the processor consults.
// *gate.Service satisfies it.
type Gatekeeper interface {
	Evaluate(ctx context.Context, in gate.Input, evaluatedBy string) (gate.Decision, error)
}

// Pricer resolves the payable unit cost of transferred stock.
// *pricing.Service satisfies it.
type Pricer interface {
	PriceFor(ctx context.Context, basePrice decimal.Decimal, p *patient.Patient, serviceType authorization.ServiceType, linkedCode *string) (decimal.Decimal, error)
}

// RecordSource loads the originating surgical or labor registry row.
// *records.Service satisfies it.
type RecordSource interface {
	Get(ctx context.Context, id uuid.UUID) (*records.ClinicalRecord, error)
}

// Invoicer writes the billed lines for a processed pack order.
// *billing.Service satisfies it.
type Invoicer interface {
	InvoicePackOrder(ctx context.Context, patientID uuid.UUID, category string, lines []billing.PackLine, createdBy string) (*billing.Invoice, error)
}

// dispensaryLocks serialises inventory mutation per dispensary so two
// concurrent pack orders cannot double-spend a batch. No cross-dispensary
// lock is ever held.
type dispensaryLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func (l *dispensaryLocks) acquire(id uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m
}

type Service struct {
	meds          MedicationRepository
	dispensaries  DispensaryRepository
	inventory     InventoryRepository
	packs         PackRepository
	orders        PackOrderRepository
	prescriptions PrescriptionRepository
	patients      patient.Repository
	records       RecordSource
	gate          Gatekeeper
	pricer        Pricer
	invoicer      Invoicer
	clock         clock.Clock
	tx            func(ctx context.Context, fn func(ctx context.Context) error) error
	locks         dispensaryLocks
}

// NewService wires the pharmacy engine. A nil pool degrades the
// transaction envelope to a pass-through, which only tests should rely on.
func NewService(pool *pgxpool.Pool, meds MedicationRepository, dispensaries DispensaryRepository,
	inventory InventoryRepository, packs PackRepository, orders PackOrderRepository,
	prescriptions PrescriptionRepository, patients patient.Repository, rs RecordSource,
	gk Gatekeeper, pricer Pricer, invoicer Invoicer, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System()
	}
	tx := func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	if pool != nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		}
	}
	return &Service{
		meds:          meds,
		dispensaries:  dispensaries,
		inventory:     inventory,
		packs:         packs,
		orders:        orders,
		prescriptions: prescriptions,
		patients:      patients,
		records:       rs,
		gate:          gk,
		pricer:        pricer,
		invoicer:      invoicer,
		clock:         clk,
		tx:            tx,
		locks:         dispensaryLocks{locks: make(map[uuid.UUID]*sync.Mutex)},
	}
}

type CreateOrderParams struct {
	PackID    uuid.UUID `json:"pack_id"`
	PatientID uuid.UUID `json:"patient_id"`
	RecordID  uuid.UUID `json:"record_id"`
}

// CreateOrder registers a pack order against a surgical or labor record.
// Processing happens separately, once the dispensary is chosen.
func (s *Service) CreateOrder(ctx context.Context, params CreateOrderParams, orderedBy string) (*PackOrder, error) {
	pack, err := s.packs.GetByID(ctx, params.PackID)
	if err != nil {
		return nil, err
	}
	if !pack.Active {
		return nil, &authorization.ValidationError{Field: "pack_id", Reason: "pack is inactive"}
	}
	if _, err := s.records.Get(ctx, params.RecordID); err != nil {
		return nil, err
	}
	order := &PackOrder{
		PackID:    params.PackID,
		PatientID: params.PatientID,
		RecordID:  params.RecordID,
		Status:    OrderOrdered,
		OrderedBy: orderedBy,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Process materialises a pack order: stock moves from the bulk store to
// the dispensary's active store batch by batch, FIFO by expiry, and the
// resulting prescription is priced for the patient. Everything commits or
// rolls back together; a critical shortfall aborts the whole order.
func (s *Service) Process(ctx context.Context, orderID, dispensaryID uuid.UUID, operator string) (*Prescription, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderOrdered {
		return nil, &OrderStatusError{OrderID: order.ID, From: order.Status, To: OrderProcessing}
	}

	record, err := s.records.Get(ctx, order.RecordID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, order.PatientID)
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Evaluate(ctx, gate.Input{
		PatientID:  order.PatientID,
		Module:     record.Module,
		Action:     gate.ActionProcessPackOrder,
		LinkedCode: record.AuthorizationCode,
		RecordID:   &record.ID,
	}, operator)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		return nil, &GateBlockedError{Decision: decision}
	}

	dispensary, err := s.dispensaries.GetByID(ctx, dispensaryID)
	if err != nil {
		return nil, err
	}
	if !dispensary.Active || !dispensary.HasActiveStore {
		return nil, &authorization.ValidationError{Field: "dispensary_id", Reason: "dispensary has no active store"}
	}

	pack, err := s.packs.GetByID(ctx, order.PackID)
	if err != nil {
		return nil, err
	}

	lock := s.locks.acquire(dispensaryID)
	defer lock.Unlock()

	var prescription *Prescription
	var invoiceNo string
	err = s.tx(ctx, func(ctx context.Context) error {
		today := s.clock.Today()
		serviceType := record.Module.ServiceType()

		prescription = &Prescription{
			PatientID: order.PatientID,
			RecordID:  &order.RecordID,
			CreatedBy: operator,
		}

		var lines []billing.PackLine
		for _, item := range pack.Items {
			reserved, unitCost, err := s.ensureStock(ctx, order, dispensaryID, item, today, operator)
			if err != nil {
				return err
			}
			if reserved.IsZero() {
				continue
			}
			payable, err := s.pricer.PriceFor(ctx, unitCost, p, serviceType, record.AuthorizationCode)
			if err != nil {
				return err
			}
			prescription.Items = append(prescription.Items, &PrescriptionItem{
				MedicationID: item.MedicationID,
				Quantity:     reserved,
				UnitCost:     payable,
				LineTotal:    payable.Mul(reserved).RoundBank(2),
			})
			med, err := s.meds.GetByID(ctx, item.MedicationID)
			if err != nil {
				return err
			}
			lines = append(lines, billing.PackLine{
				Description: med.Name,
				Quantity:    int(reserved.IntPart()),
				UnitPrice:   payable,
			})
		}

		if err := s.prescriptions.Create(ctx, prescription); err != nil {
			return err
		}

		// The pack is billed as it is processed; the line category is the
		// record's service area so payment feeds auto-issuance.
		if s.invoicer != nil && len(lines) > 0 {
			inv, err := s.invoicer.InvoicePackOrder(ctx, order.PatientID, string(serviceType), lines, operator)
			if err != nil {
				return err
			}
			invoiceNo = inv.InvoiceNo
		}

		order.Status = OrderProcessing
		order.DispensaryID = &dispensaryID
		order.PrescriptionID = &prescription.ID
		order.ProcessedBy = &operator
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("pack_order_id", order.ID.String()).
		Str("dispensary_id", dispensaryID.String()).
		Str("prescription_id", prescription.ID.String()).
		Str("invoice_no", invoiceNo).
		Msg("pack order processed")
	return prescription, nil
}

// ensureStock tops an item's active-store quantity up to the pack
// quantity, transferring from bulk FIFO by expiry. It returns the quantity
// actually reserved and the weighted unit cost of the transferred stock.
func (s *Service) ensureStock(ctx context.Context, order *PackOrder, dispensaryID uuid.UUID,
	item *PackItem, today time.Time, operator string) (decimal.Decimal, decimal.Decimal, error) {
	activeQty, err := s.inventory.ActiveQuantity(ctx, dispensaryID, item.MedicationID)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	need := item.Quantity.Sub(activeQty)
	unitCost := decimal.Zero
	if !need.IsPositive() {
		// Already stocked; cost the line off the cheapest unexpired bulk
		// batch for reporting parity.
		rows, err := s.inventory.BulkRowsFIFO(ctx, item.MedicationID, today)
		if err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		if len(rows) > 0 {
			unitCost = rows[0].UnitCost
		}
		return item.Quantity, unitCost, nil
	}

	rows, err := s.inventory.BulkRowsFIFO(ctx, item.MedicationID, today)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	remaining := need
	totalCost := decimal.Zero
	transferred := decimal.Zero
	for _, row := range rows {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, row.Quantity)
		if err := s.inventory.DebitBulk(ctx, row.ID, take); err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		if err := s.inventory.CreditActive(ctx, dispensaryID, row, take); err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		if err := s.inventory.RecordTransfer(ctx, &MedicationTransfer{
			MedicationID:  item.MedicationID,
			DispensaryID:  dispensaryID,
			Batch:         row.Batch,
			Quantity:      take,
			UnitCost:      row.UnitCost,
			PackOrderID:   &order.ID,
			TransferredBy: operator,
			TransferredAt: s.clock.Now(),
		}); err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		totalCost = totalCost.Add(row.UnitCost.Mul(take))
		transferred = transferred.Add(take)
		remaining = remaining.Sub(take)
	}

	if transferred.IsPositive() {
		unitCost = totalCost.Div(transferred).RoundBank(2)
	}

	if remaining.IsPositive() {
		available := activeQty.Add(transferred)
		if item.Critical {
			med, merr := s.meds.GetByID(ctx, item.MedicationID)
			name := item.MedicationID.String()
			if merr == nil {
				name = med.Name
			}
			return decimal.Decimal{}, decimal.Decimal{}, &authorization.InsufficientCriticalStockError{
				MedicationID: item.MedicationID,
				Medication:   name,
				Required:     item.Quantity,
				Available:    available,
			}
		}
		if err := s.orders.AddShortfall(ctx, &Shortfall{
			PackOrderID:  order.ID,
			MedicationID: item.MedicationID,
			Requested:    item.Quantity,
			Transferred:  available,
		}); err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		return available, unitCost, nil
	}
	return item.Quantity, unitCost, nil
}

// MarkReady flags a processed order as packed and awaiting collection.
func (s *Service) MarkReady(ctx context.Context, orderID uuid.UUID) (*PackOrder, error) {
	return s.transition(ctx, orderID, OrderReady)
}

// Dispense hands the processed pack over, debiting the active store. The
// gate is consulted again: dispensing is a side effect in its own right.
func (s *Service) Dispense(ctx context.Context, orderID uuid.UUID, operator string) (*PackOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(order.Status, OrderDispensed) {
		return nil, &OrderStatusError{OrderID: order.ID, From: order.Status, To: OrderDispensed}
	}
	record, err := s.records.Get(ctx, order.RecordID)
	if err != nil {
		return nil, err
	}
	decision, err := s.gate.Evaluate(ctx, gate.Input{
		PatientID:  order.PatientID,
		Module:     record.Module,
		Action:     gate.ActionDispense,
		LinkedCode: record.AuthorizationCode,
		RecordID:   &record.ID,
	}, operator)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		return nil, &GateBlockedError{Decision: decision}
	}
	if order.DispensaryID == nil || order.PrescriptionID == nil {
		return nil, &authorization.ValidationError{Field: "status", Reason: "order has not been processed"}
	}

	lock := s.locks.acquire(*order.DispensaryID)
	defer lock.Unlock()

	err = s.tx(ctx, func(ctx context.Context) error {
		prescription, err := s.prescriptions.GetByID(ctx, *order.PrescriptionID)
		if err != nil {
			return err
		}
		today := s.clock.Today()
		for _, item := range prescription.Items {
			if err := s.inventory.DebitActive(ctx, *order.DispensaryID, item.MedicationID, item.Quantity, today); err != nil {
				return err
			}
		}
		order.Status = OrderDispensed
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder voids a non-terminal pack order.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) (*PackOrder, error) {
	return s.transition(ctx, orderID, OrderCancelled)
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, to PackOrderStatus) (*PackOrder, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(order.Status, to) {
		return nil, &OrderStatusError{OrderID: order.ID, From: order.Status, To: to}
	}
	order.Status = to
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*PackOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListOrdersByStatus(ctx context.Context, status PackOrderStatus, limit, offset int) ([]*PackOrder, int, error) {
	switch status {
	case OrderOrdered, OrderProcessing, OrderReady, OrderDispensed, OrderCancelled:
	default:
		return nil, 0, &authorization.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.orders.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) ListOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*PackOrder, int, error) {
	return s.orders.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) ListPrescriptionsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) CreatePack(ctx context.Context, pack *MedicalPack) (*MedicalPack, error) {
	if pack.Name == "" {
		return nil, &authorization.ValidationError{Field: "name", Reason: "is required"}
	}
	if len(pack.Items) == 0 {
		return nil, &authorization.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, item := range pack.Items {
		if !item.Quantity.IsPositive() {
			return nil, &authorization.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
	}
	pack.Active = true
	if err := s.packs.Create(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

func (s *Service) GetPack(ctx context.Context, id uuid.UUID) (*MedicalPack, error) {
	return s.packs.GetByID(ctx, id)
}

func (s *Service) ListPacks(ctx context.Context, limit, offset int) ([]*MedicalPack, int, error) {
	return s.packs.List(ctx, limit, offset)
}

func (s *Service) CreateMedication(ctx context.Context, m *Medication) (*Medication, error) {
	if m.Code == "" || m.Name == "" {
		return nil, &authorization.ValidationError{Field: "code", Reason: "code and name are required"}
	}
	if m.Unit == "" {
		m.Unit = "unit"
	}
	m.Active = true
	if err := s.meds.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.meds.GetByID(ctx, id)
}

func (s *Service) ListMedications(ctx context.Context, limit, offset int) ([]*Medication, int, error) {
	return s.meds.List(ctx, limit, offset)
}

func (s *Service) SearchMedications(ctx context.Context, query string, limit, offset int) ([]*Medication, int, error) {
	return s.meds.Search(ctx, query, limit, offset)
}

func (s *Service) CreateDispensary(ctx context.Context, d *Dispensary) (*Dispensary, error) {
	if d.Name == "" {
		return nil, &authorization.ValidationError{Field: "name", Reason: "is required"}
	}
	d.Active = true
	if err := s.dispensaries.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) UpdateDispensary(ctx context.Context, d *Dispensary) (*Dispensary, error) {
	if _, err := s.dispensaries.GetByID(ctx, d.ID); err != nil {
		return nil, err
	}
	if err := s.dispensaries.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDispensaries(ctx context.Context, limit, offset int) ([]*Dispensary, int, error) {
	return s.dispensaries.List(ctx, limit, offset)
}

// ReceiveStock books a delivered batch into the bulk store.
func (s *Service) ReceiveStock(ctx context.Context, row *BulkInventory) (*BulkInventory, error) {
	if !row.Quantity.IsPositive() {
		return nil, &authorization.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if row.Batch == "" {
		return nil, &authorization.ValidationError{Field: "batch", Reason: "is required"}
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = s.clock.Now()
	}
	if err := s.inventory.CreateBulk(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) ListActiveInventory(ctx context.Context, dispensaryID uuid.UUID, limit, offset int) ([]*ActiveInventory, int, error) {
	return s.inventory.ListActive(ctx, dispensaryID, limit, offset)
}

func (s *Service) ListBulkInventory(ctx context.Context, medicationID uuid.UUID, limit, offset int) ([]*BulkInventory, int, error) {
	return s.inventory.ListBulk(ctx, medicationID, limit, offset)
}
