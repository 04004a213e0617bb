package integration

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/authorization"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/gate"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/pricing"
	"github.com/hms/hms/internal/domain/records"
	"github.com/hms/hms/internal/platform/notification"
)

// services wires the full stack against the shared test database, the same
// way the server entrypoint does.
type services struct {
	patients *patient.Service
	catalog  *catalog.Service
	auth     *authorization.Service
	records  *records.Service
	gate     *gate.Service
	pricing  *pricing.Service
	billing  *billing.Service
	pharmacy *pharmacy.Service
}

func buildServices(t *testing.T) *services {
	t.Helper()
	pool := globalDB.Pool
	patientRepo := patient.NewRepoPG(pool)
	notifier := notification.NewNotificationManager(notification.NewPGStore(pool),
		&notification.MockEmailSender{}, &notification.MockSMSSender{}, notification.NewTemplateEngine())

	nhiaRate := decimal.RequireFromString("0.10")
	catalogSvc := catalog.NewService(catalog.NewRepoPG(pool), catalog.NewMappingRepoPG(pool))
	authSvc := authorization.NewService(
		authorization.NewCodeRepoPG(pool), authorization.NewRequestRepoPG(pool),
		patientRepo, notifier, nil, 30)
	recordsSvc := records.NewService(
		records.NewConfigRepoPG(pool), records.NewRecordRepoPG(pool), patientRepo, authSvc)
	gateSvc := gate.NewService(patientRepo, recordsSvc, authSvc, nhiaRate)
	pricingSvc := pricing.NewService(authSvc, nhiaRate)
	billingSvc := billing.NewService(pool, billing.NewRepoPG(pool), patientRepo,
		catalogSvc, gateSvc, authSvc, nil)
	pharmacySvc := pharmacy.NewService(pool,
		pharmacy.NewMedicationRepoPG(pool), pharmacy.NewDispensaryRepoPG(pool),
		pharmacy.NewInventoryRepoPG(pool), pharmacy.NewPackRepoPG(pool),
		pharmacy.NewPackOrderRepoPG(pool), pharmacy.NewPrescriptionRepoPG(pool),
		patientRepo, recordsSvc, gateSvc, pricingSvc, billingSvc, nil)

	return &services{
		patients: patient.NewService(patientRepo),
		catalog:  catalogSvc,
		auth:     authSvc,
		records:  recordsSvc,
		gate:     gateSvc,
		pricing:  pricingSvc,
		billing:  billingSvc,
		pharmacy: pharmacySvc,
	}
}
