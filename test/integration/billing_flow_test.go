package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/records"
)

func createLabItem(t *testing.T, ctx context.Context, svcs *services, price string) *catalog.ServiceItem {
	t.Helper()
	item := &catalog.ServiceItem{
		Code:        "LAB-" + uniqueSuffix(),
		Name:        "Full Blood Count",
		Category:    "laboratory",
		Price:       decimal.RequireFromString(price),
		NHIACovered: true,
		Active:      true,
	}
	if err := svcs.catalog.CreateItem(ctx, item); err != nil {
		t.Fatalf("create catalog item: %v", err)
	}
	return item
}

func TestBilling_RegularPatientFullPrice(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createRegularPatient(t, ctx, "Chidi", "Okafor")
	item := createLabItem(t, ctx, svcs, "2500")

	inv, err := svcs.billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		PatientID: p.ID,
		Module:    records.ModuleFor(authorization.ServiceLaboratory),
		Items:     []billing.LineParams{{ServiceItemID: item.ID, Quantity: 2}},
	}, "billing-clerk-1")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if !inv.Total.Equal(decimal.RequireFromString("5000.00")) {
		t.Fatalf("total = %s, want 5000.00", inv.Total)
	}
}

func TestBilling_NHIAWithoutCodeBlocked(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createNHIAPatient(t, ctx, "Ngozi", "Adamu")
	item := createLabItem(t, ctx, svcs, "2500")

	_, err := svcs.billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		PatientID: p.ID,
		Module:    records.ModuleFor(authorization.ServiceLaboratory),
		Items:     []billing.LineParams{{ServiceItemID: item.ID, Quantity: 1}},
	}, "billing-clerk-1")
	var blocked *billing.GateBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected gate blocked error, got %v", err)
	}
}

func TestBilling_RetainershipContractRate(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createRetainershipPatient(t, ctx, "Ifeoma", "Eze", "Acme Oil Services",
		decimal.RequireFromString("0.75"))
	item := createLabItem(t, ctx, svcs, "2000")

	inv, err := svcs.billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		PatientID: p.ID,
		Module:    records.ModuleFor(authorization.ServiceLaboratory),
		Items:     []billing.LineParams{{ServiceItemID: item.ID, Quantity: 1}},
	}, "billing-clerk-1")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if !inv.Total.Equal(decimal.RequireFromString("1500.00")) {
		t.Fatalf("total = %s, want 1500.00", inv.Total)
	}
}

// TestBilling_PaidNHIAInvoiceAutoIssues exercises the payment trigger across
// real tables: paying an NHIA invoice issues a pending code for every line
// whose category maps to a service type.
func TestBilling_PaidNHIAInvoiceAutoIssues(t *testing.T) {
	ctx := context.Background()
	svcs := buildServices(t)
	p := createNHIAPatient(t, ctx, "Fatima", "Sani")
	item := createLabItem(t, ctx, svcs, "3000")

	// An authorized laboratory code lets the invoice through the gate.
	code, err := svcs.auth.CreateCode(ctx, authorization.CreateCodeParams{
		PatientID:   p.ID,
		ServiceType: authorization.ServiceLaboratory,
	}, "desk-officer-1")
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	inv, err := svcs.billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		PatientID:  p.ID,
		Module:     records.ModuleFor(authorization.ServiceLaboratory),
		LinkedCode: &code.Code,
		Items:      []billing.LineParams{{ServiceItemID: item.ID, Quantity: 1}},
	}, "billing-clerk-1")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.DiscountRate == nil || !inv.Total.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("total = %s (discount %v), want 300.00 at 0.10", inv.Total, inv.DiscountRate)
	}

	if _, err := svcs.billing.Issue(ctx, inv.ID); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svcs.billing.MarkPaid(ctx, inv.ID, "billing-clerk-1"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	codes, _, err := svcs.auth.ListByPatient(ctx, p.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	var pending *authorization.AuthorizationCode
	for _, c := range codes {
		if c.Status == authorization.StatusPending {
			pending = c
		}
	}
	if pending == nil {
		t.Fatal("paid NHIA invoice must auto-issue a pending code")
	}
	if pending.ServiceType != authorization.ServiceLaboratory {
		t.Fatalf("pending code service type = %s, want laboratory", pending.ServiceType)
	}
}
