package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/authorization"
)

// Module identifies a clinical module in gate configuration. The values are
// the authorization service types plus the consultation module, which is not
// a billable service type of its own.
type Module string

const ModuleConsultation Module = "consultation"

// ModuleFor converts a service type to its module identifier.
func ModuleFor(t authorization.ServiceType) Module { return Module(t) }

// ServiceType converts a module back to a service type. The consultation
// module falls back to the general type for code issuance.
func (m Module) ServiceType() authorization.ServiceType {
	if m == ModuleConsultation {
		return authorization.ServiceGeneral
	}
	return authorization.ServiceType(m)
}

// ModuleConfig maps a clinical module to its gating behaviour. The desk
// office can adjust which modules demand authorization without a deploy.
type ModuleConfig struct {
	Module                Module                    `db:"module" json:"module"`
	RequiresAuthorization bool                      `db:"requires_authorization" json:"requires_authorization"`
	DefaultServiceType    authorization.ServiceType `db:"default_service_type" json:"default_service_type"`
	UpdatedAt             time.Time                 `db:"updated_at" json:"updated_at"`
}

// DefaultModuleConfigs seed the module_config table. Consultations default
// to not requiring authorization; individual consulting rooms flag it.
func DefaultModuleConfigs() []ModuleConfig {
	required := []authorization.ServiceType{
		authorization.ServiceDental, authorization.ServiceENT,
		authorization.ServiceOphthalmic, authorization.ServiceOncology,
		authorization.ServiceLaboratory, authorization.ServiceRadiology,
		authorization.ServiceTheatre, authorization.ServiceInpatient,
		authorization.ServiceGynaeEmergency, authorization.ServiceLabor,
		authorization.ServiceSCBU, authorization.ServiceICU,
	}
	configs := make([]ModuleConfig, 0, len(required)+2)
	for _, t := range required {
		configs = append(configs, ModuleConfig{
			Module:                ModuleFor(t),
			RequiresAuthorization: true,
			DefaultServiceType:    t,
		})
	}
	configs = append(configs,
		ModuleConfig{Module: ModuleFor(authorization.ServiceOther), RequiresAuthorization: false, DefaultServiceType: authorization.ServiceOther},
		ModuleConfig{Module: ModuleConsultation, RequiresAuthorization: false, DefaultServiceType: authorization.ServiceGeneral},
	)
	return configs
}

// AuthorizationStatus is the derived gate state of a clinical record.
type AuthorizationStatus string

const (
	AuthNotRequired AuthorizationStatus = "not_required"
	AuthRequired    AuthorizationStatus = "required"
	AuthPending     AuthorizationStatus = "pending"
	AuthAuthorized  AuthorizationStatus = "authorized"
	AuthRejected    AuthorizationStatus = "rejected"
)

// ClinicalRecord is the thin registry row clinical modules register so the
// desk office can list items awaiting authorization. The owning module keeps
// its own clinical detail; this row carries only what gating needs.
type ClinicalRecord struct {
	ID                  uuid.UUID           `db:"id" json:"id"`
	PatientID           uuid.UUID           `db:"patient_id" json:"patient_id"`
	Module              Module              `db:"module" json:"module"`
	Description         *string             `db:"description" json:"description,omitempty"`
	AuthorizationCode   *string             `db:"authorization_code" json:"authorization_code,omitempty"`
	AuthorizationStatus AuthorizationStatus `db:"authorization_status" json:"authorization_status"`
	RequestID           *uuid.UUID          `db:"request_id" json:"request_id,omitempty"`
	CreatedBy           string              `db:"created_by" json:"created_by"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updated_at"`
}
