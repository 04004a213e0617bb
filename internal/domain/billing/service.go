package billing

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/gate"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/records"
	"github.com/hms/hms/internal/platform/clock"
	"github.com/hms/hms/internal/platform/db"
)

// GateBlockedError carries the gate's refusal back to the caller as an
// error, since an invoice cannot be half-created.
type GateBlockedError struct {
	Decision gate.Decision
}

func (e *GateBlockedError) Error() string {
	if e.Decision.Reason != "" {
		return e.Decision.Reason
	}
	return fmt.Sprintf("invoice blocked by gate: %s", e.Decision.Kind)
}

// InvalidStatusError reports a disallowed invoice status transition.
type InvalidStatusError struct {
	InvoiceNo string
	From, To  InvoiceStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invoice %s: cannot transition from %s to %s", e.InvoiceNo, e.From, e.To)
}

// Gatekeeper is the slice of the service gate billing consults.
// *gate.Service satisfies it.
type Gatekeeper interface {
	Evaluate(ctx context.Context, in gate.Input, evaluatedBy string) (gate.Decision, error)
}

// CategoryMapper resolves billed categories to service types for the
// auto-issuance path. *catalog.Service satisfies it.
type CategoryMapper interface {
	ServiceTypeForCategory(ctx context.Context, category string) (authorization.ServiceType, bool, error)
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.ServiceItem, error)
}

// AutoIssuer produces pending authorization codes when an invoice is paid.
// *authorization.Service satisfies it.
type AutoIssuer interface {
	AutoIssue(ctx context.Context, patientID uuid.UUID, serviceType authorization.ServiceType, amount decimal.Decimal, description, generatedBy string) (*authorization.AuthorizationCode, error)
}

type Service struct {
	invoices Repository
	patients patient.Repository
	catalog  CategoryMapper
	gate     Gatekeeper
	issuer   AutoIssuer
	clock    clock.Clock
	tx       func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService wires the billing engine. A nil pool degrades the transaction
// envelope to a pass-through, which only tests should rely on.
func NewService(pool *pgxpool.Pool, invoices Repository, patients patient.Repository,
	cat CategoryMapper, gk Gatekeeper, issuer AutoIssuer, clk clock.Clock) *Service {
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
		invoices: invoices,
		patients: patients,
		catalog:  cat,
		gate:     gk,
		issuer:   issuer,
		clock:    clk,
		tx:       tx,
	}
}

// LineParams is one requested invoice line, referencing a catalog item.
type LineParams struct {
	ServiceItemID uuid.UUID `json:"service_item_id"`
	Quantity      int       `json:"quantity"`
}

type CreateInvoiceParams struct {
	PatientID  uuid.UUID      `json:"patient_id"`
	Module     records.Module `json:"module,omitempty"`
	RecordID   *uuid.UUID     `json:"record_id,omitempty"`
	LinkedCode *string        `json:"linked_code,omitempty"`
	Items      []LineParams   `json:"items"`
}

// CreateInvoice prices the requested lines and writes a draft invoice. The
// gate is consulted first: a blocked decision aborts with GateBlockedError
// so no partial invoice is ever visible.
func (s *Service) CreateInvoice(ctx context.Context, params CreateInvoiceParams, createdBy string) (*Invoice, error) {
	if len(params.Items) == 0 {
		return nil, &authorization.ValidationError{Field: "items", Reason: "at least one line is required"}
	}
	module := params.Module
	if module == "" {
		module = records.ModuleFor(authorization.ServiceGeneral)
	}

	decision, err := s.gate.Evaluate(ctx, gate.Input{
		PatientID:  params.PatientID,
		Module:     module,
		Action:     gate.ActionGenerateInvoice,
		LinkedCode: params.LinkedCode,
		RecordID:   params.RecordID,
	}, createdBy)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		return nil, &GateBlockedError{Decision: decision}
	}

	invoiceNo, err := s.nextInvoiceNo()
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		InvoiceNo: invoiceNo,
		PatientID: params.PatientID,
		Status:    StatusDraft,
		CreatedBy: createdBy,
	}

	subtotal := decimal.Zero
	for _, line := range params.Items {
		if line.Quantity <= 0 {
			return nil, &authorization.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		item, err := s.catalog.GetItem(ctx, line.ServiceItemID)
		if err != nil {
			return nil, err
		}
		lineTotal := item.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		id := item.ID
		inv.Items = append(inv.Items, &InvoiceItem{
			ServiceItemID: &id,
			Description:   item.Name,
			Category:      item.Category,
			Quantity:      line.Quantity,
			UnitPrice:     item.Price,
			LineTotal:     lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	inv.Subtotal = subtotal.RoundBank(2)
	inv.Total = inv.Subtotal
	if decision.Kind == gate.PermittedWithDiscount && decision.DiscountRate != nil {
		inv.DiscountRate = decision.DiscountRate
		inv.Total = subtotal.Mul(*decision.DiscountRate).RoundBank(2)
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// PackLine is one pre-priced line from the pharmacy pack processor.
type PackLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// InvoicePackOrder writes a draft invoice for a processed pack order. The
// lines arrive already priced per unit by the pricing resolver, so the gate
// is not consulted again and no further discount applies. The category is
// the record's service area, which feeds the auto-issuance path on payment
// like any other billed line. Callers invoke this inside their own
// transaction; the insert joins it through the context.
func (s *Service) InvoicePackOrder(ctx context.Context, patientID uuid.UUID, category string, lines []PackLine, createdBy string) (*Invoice, error) {
	if len(lines) == 0 {
		return nil, &authorization.ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	invoiceNo, err := s.nextInvoiceNo()
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		InvoiceNo: invoiceNo,
		PatientID: patientID,
		Status:    StatusDraft,
		CreatedBy: createdBy,
	}
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &authorization.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).RoundBank(2)
		inv.Items = append(inv.Items, &InvoiceItem{
			Description: line.Description,
			Category:    category,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	inv.Subtotal = subtotal.RoundBank(2)
	inv.Total = inv.Subtotal
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Issue moves a draft invoice to issued, the state payments are accepted
// against.
func (s *Service) Issue(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.transition(ctx, id, StatusIssued)
}

// Cancel voids a draft or issued invoice.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to InvoiceStatus) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(inv.Status, to) {
		return nil, &InvalidStatusError{InvoiceNo: inv.InvoiceNo, From: inv.Status, To: to}
	}
	now := s.clock.Now()
	inv.Status = to
	if to == StatusIssued {
		inv.IssuedAt = &now
	}
	if err := s.invoices.UpdateStatus(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkPaid settles an issued invoice. For NHIA patients, payment is the
// sole trigger of pending authorization codes: one per billed line whose
// category maps to a service type. The status flip and every issued code
// commit or roll back together.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, operator string) (*Invoice, error) {
	var out *Invoice
	err := s.tx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, StatusPaid) {
			return &InvalidStatusError{InvoiceNo: inv.InvoiceNo, From: inv.Status, To: StatusPaid}
		}
		now := s.clock.Now()
		inv.Status = StatusPaid
		inv.PaidAt = &now
		if err := s.invoices.UpdateStatus(ctx, inv); err != nil {
			return err
		}

		p, err := s.patients.GetByID(ctx, inv.PatientID)
		if err != nil {
			return err
		}
		if p.IsNHIA() {
			if err := s.autoIssueForLines(ctx, inv); err != nil {
				return err
			}
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("invoice_no", out.InvoiceNo).Str("operator", operator).Msg("invoice paid")
	return out, nil
}

func (s *Service) autoIssueForLines(ctx context.Context, inv *Invoice) error {
	for _, item := range inv.Items {
		serviceType, ok, err := s.catalog.ServiceTypeForCategory(ctx, item.Category)
		if err != nil {
			return err
		}
		if !ok {
			// Unmapped categories (consumables, sundries) never trigger
			// authorization codes.
			continue
		}
		_, err = s.issuer.AutoIssue(ctx, inv.PatientID, serviceType, item.LineTotal,
			item.Description, "system:billing")
		if err != nil {
			return fmt.Errorf("auto-issue for %s: %w", item.Description, err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, invoiceNo string) (*Invoice, error) {
	return s.invoices.GetByNumber(ctx, invoiceNo)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	switch status {
	case StatusDraft, StatusIssued, StatusPaid, StatusCancelled:
	default:
		return nil, 0, &authorization.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.invoices.ListByStatus(ctx, status, limit, offset)
}

const invoiceSuffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func (s *Service) nextInvoiceNo() (string, error) {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(invoiceSuffixAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invoice number: %w", err)
		}
		suffix[i] = invoiceSuffixAlphabet[n.Int64()]
	}
	return fmt.Sprintf("INV-%s-%s", s.clock.Today().Format("20060102"), suffix), nil
}
