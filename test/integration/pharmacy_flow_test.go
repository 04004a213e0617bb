package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/records"
)

// TestPharmacy_PackOrderLifecycle runs an order from creation through
// processing to dispensing against real inventory rows, checking the FIFO
// transfer and the stock positions left behind.
func TestPharmacy_PackOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createRegularPatient(t, ctx, "Bode", "Adeyemi")

	med, err := svcs.pharmacy.CreateMedication(ctx, &pharmacy.Medication{
		Code: "GEN-" + uniqueSuffix(),
		Name: "Gentamicin 80mg",
		Unit: "ampoule",
	})
	if err != nil {
		t.Fatalf("CreateMedication: %v", err)
	}

	dispensary, err := svcs.pharmacy.CreateDispensary(ctx, &pharmacy.Dispensary{
		Name:           "Theatre Dispensary " + uniqueSuffix(),
		HasActiveStore: true,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("CreateDispensary: %v", err)
	}

	now := time.Now().UTC()
	// Two batches; the sooner-expiring one must be consumed first.
	for _, b := range []struct {
		batch  string
		qty    string
		expiry time.Time
	}{
		{"B-SOON", "6", now.AddDate(0, 2, 0)},
		{"B-LATE", "10", now.AddDate(0, 8, 0)},
	} {
		if _, err := svcs.pharmacy.ReceiveStock(ctx, &pharmacy.BulkInventory{
			MedicationID: med.ID,
			Batch:        b.batch,
			Quantity:     decimal.RequireFromString(b.qty),
			ExpiryDate:   b.expiry,
			UnitCost:     decimal.RequireFromString("150"),
		}); err != nil {
			t.Fatalf("ReceiveStock %s: %v", b.batch, err)
		}
	}

	pack, err := svcs.pharmacy.CreatePack(ctx, &pharmacy.MedicalPack{
		Name:   "Caesarean Section Pack " + uniqueSuffix(),
		Module: records.ModuleFor(authorization.ServiceTheatre),
		Items: []*pharmacy.PackItem{
			{MedicationID: med.ID, Quantity: decimal.RequireFromString("8"), Critical: true, SortOrder: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreatePack: %v", err)
	}

	rec, err := svcs.records.RegisterRecord(ctx, records.RegisterRecordParams{
		PatientID: p.ID,
		Module:    records.ModuleFor(authorization.ServiceTheatre),
	}, "surgeon-1")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}

	order, err := svcs.pharmacy.CreateOrder(ctx, pharmacy.CreateOrderParams{
		PackID:    pack.ID,
		PatientID: p.ID,
		RecordID:  rec.ID,
	}, "surgeon-1")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	prescription, err := svcs.pharmacy.Process(ctx, order.ID, dispensary.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(prescription.Items) != 1 || !prescription.Items[0].Quantity.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("prescription = %+v, want one line of 8", prescription.Items)
	}
	// Regular patient pays the transfer cost in full.
	if !prescription.Items[0].UnitCost.Equal(decimal.RequireFromString("150.00")) {
		t.Fatalf("unit cost = %s, want 150.00", prescription.Items[0].UnitCost)
	}

	// Processing billed the pack: one draft invoice line at the transfer cost.
	invoices, _, err := svcs.billing.ListByPatient(ctx, p.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(invoices))
	}
	inv, err := svcs.billing.Get(ctx, invoices[0].ID)
	if err != nil {
		t.Fatalf("Get invoice: %v", err)
	}
	if len(inv.Items) != 1 {
		t.Fatalf("expected 1 invoice line, got %d", len(inv.Items))
	}
	if inv.Items[0].Category != string(authorization.ServiceTheatre) {
		t.Fatalf("category = %q, want %q", inv.Items[0].Category, authorization.ServiceTheatre)
	}
	if !inv.Total.Equal(decimal.RequireFromString("1200.00")) {
		t.Fatalf("invoice total = %s, want 1200.00", inv.Total)
	}

	// B-SOON is drained first; its remainder goes untouched in B-LATE.
	bulk, _, err := svcs.pharmacy.ListBulkInventory(ctx, med.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListBulkInventory: %v", err)
	}
	remaining := map[string]decimal.Decimal{}
	for _, row := range bulk {
		remaining[row.Batch] = row.Quantity
	}
	if !remaining["B-SOON"].IsZero() {
		t.Fatalf("B-SOON remaining = %s, want 0", remaining["B-SOON"])
	}
	if !remaining["B-LATE"].Equal(decimal.RequireFromString("8")) {
		t.Fatalf("B-LATE remaining = %s, want 8", remaining["B-LATE"])
	}

	if _, err := svcs.pharmacy.MarkReady(ctx, order.ID); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	dispensed, err := svcs.pharmacy.Dispense(ctx, order.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Dispense: %v", err)
	}
	if dispensed.Status != pharmacy.OrderDispensed {
		t.Fatalf("status = %s, want %s", dispensed.Status, pharmacy.OrderDispensed)
	}

	active, _, err := svcs.pharmacy.ListActiveInventory(ctx, dispensary.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListActiveInventory: %v", err)
	}
	left := decimal.Zero
	for _, row := range active {
		left = left.Add(row.Quantity)
	}
	if !left.IsZero() {
		t.Fatalf("active store after dispense = %s, want 0", left)
	}
}

// TestPharmacy_CriticalShortfallLeavesStateUntouched aborts an order whose
// critical item cannot be covered and verifies the rollback: bulk rows keep
// their quantities, no stock lands in the active store, no invoice is
// written, and the order stays available for a retry after restocking.
func TestPharmacy_CriticalShortfallLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createRegularPatient(t, ctx, "Tunde", "Balogun")

	med, err := svcs.pharmacy.CreateMedication(ctx, &pharmacy.Medication{
		Code: "OXY-" + uniqueSuffix(),
		Name: "Oxytocin 10IU",
		Unit: "ampoule",
	})
	if err != nil {
		t.Fatalf("CreateMedication: %v", err)
	}
	dispensary, err := svcs.pharmacy.CreateDispensary(ctx, &pharmacy.Dispensary{
		Name:           "Labor Ward Dispensary " + uniqueSuffix(),
		HasActiveStore: true,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("CreateDispensary: %v", err)
	}

	now := time.Now().UTC()
	if _, err := svcs.pharmacy.ReceiveStock(ctx, &pharmacy.BulkInventory{
		MedicationID: med.ID,
		Batch:        "B-SHORT",
		Quantity:     decimal.RequireFromString("4"),
		ExpiryDate:   now.AddDate(0, 6, 0),
		UnitCost:     decimal.RequireFromString("80"),
	}); err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}

	pack, err := svcs.pharmacy.CreatePack(ctx, &pharmacy.MedicalPack{
		Name:   "Delivery Pack " + uniqueSuffix(),
		Module: records.ModuleFor(authorization.ServiceLabor),
		Items: []*pharmacy.PackItem{
			{MedicationID: med.ID, Quantity: decimal.RequireFromString("10"), Critical: true, SortOrder: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreatePack: %v", err)
	}
	rec, err := svcs.records.RegisterRecord(ctx, records.RegisterRecordParams{
		PatientID: p.ID,
		Module:    records.ModuleFor(authorization.ServiceLabor),
	}, "midwife-1")
	if err != nil {
		t.Fatalf("RegisterRecord: %v", err)
	}
	order, err := svcs.pharmacy.CreateOrder(ctx, pharmacy.CreateOrderParams{
		PackID:    pack.ID,
		PatientID: p.ID,
		RecordID:  rec.ID,
	}, "midwife-1")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	_, err = svcs.pharmacy.Process(ctx, order.ID, dispensary.ID, "pharmacist-1")
	var stock *authorization.InsufficientCriticalStockError
	if !errors.As(err, &stock) {
		t.Fatalf("expected insufficient critical stock error, got %v", err)
	}
	if !stock.Available.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("available = %s, want 4", stock.Available)
	}

	// The partial debits made before the shortfall was detected rolled back.
	bulk, _, err := svcs.pharmacy.ListBulkInventory(ctx, med.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListBulkInventory: %v", err)
	}
	if len(bulk) != 1 || !bulk[0].Quantity.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("bulk rows = %+v, want B-SHORT back at 4", bulk)
	}
	active, _, err := svcs.pharmacy.ListActiveInventory(ctx, dispensary.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListActiveInventory: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active rows = %+v, want none", active)
	}
	invoices, _, err := svcs.billing.ListByPatient(ctx, p.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if len(invoices) != 0 {
		t.Fatalf("expected no invoices after abort, got %d", len(invoices))
	}

	fresh, err := svcs.pharmacy.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if fresh.Status != pharmacy.OrderOrdered {
		t.Fatalf("status = %s, want %s", fresh.Status, pharmacy.OrderOrdered)
	}
}
