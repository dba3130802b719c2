// Package api contains API contract definitions for the KeyGate license service.
// Version v1 represents the current stable API version.
package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"keygate/pkg/contracts/domain"
)

// validate is shared by the Bind implementations. Field names in messages use
// the json tag so clients see the wire name, not the Go name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// License API Requests

// ActivateRequest is the public activation payload. The key itself is not
// format-validated here: malformed keys must flow through to the service so
// they collapse into the generic invalid outcome instead of a 400 that would
// reveal format detail.
type ActivateRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id" validate:"required,min=8,max=128"`
}

// Bind implements the render.Binder interface.
func (a *ActivateRequest) Bind(r *http.Request) error {
	return validationError(validate.Struct(a))
}

// TransferRequest is the public rebind payload.
type TransferRequest struct {
	LicenseKey  string `json:"license_key"`
	NewDeviceID string `json:"new_device_id" validate:"required,min=8,max=128"`
}

// Bind implements the render.Binder interface.
func (t *TransferRequest) Bind(r *http.Request) error {
	return validationError(validate.Struct(t))
}

// RevokeRequest is the administrative revocation payload. Revocation targets
// the license id, never the key; the admin surface is authenticated so precise
// validation errors are acceptable here.
type RevokeRequest struct {
	LicenseID string `json:"license_id" validate:"required,uuid4"`
}

// Bind implements the render.Binder interface.
func (rr *RevokeRequest) Bind(r *http.Request) error {
	return validationError(validate.Struct(rr))
}

// IssueRequest creates a license row. Reachable only through the internal
// surface (payment-completion events and partner grants).
type IssueRequest struct {
	OwnerEmail string `json:"owner_email" validate:"required,email"`
	OwnerName  string `json:"owner_name,omitempty" validate:"omitempty,max=120"`
	PlanType   string `json:"plan_type,omitempty" validate:"omitempty,oneof=standard professional enterprise"`
	Source     string `json:"source,omitempty" validate:"omitempty,oneof=purchase partner"`
}

// Bind implements the render.Binder interface.
func (i *IssueRequest) Bind(r *http.Request) error {
	return validationError(validate.Struct(i))
}

// Plan returns the requested plan tier, defaulting to standard.
func (i *IssueRequest) Plan() domain.PlanType {
	if i.PlanType == "" {
		return domain.PlanStandard
	}
	return domain.PlanType(i.PlanType)
}

// Origin returns the requested source tag, defaulting to purchase.
func (i *IssueRequest) Origin() domain.IssuanceSource {
	if i.Source == "" {
		return domain.SourcePurchase
	}
	return domain.IssuanceSource(i.Source)
}

// validationError flattens validator output into a single readable message.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email address")
		case "uuid4":
			msgs = append(msgs, fe.Field()+" must be a valid UUID")
		case "oneof":
			msgs = append(msgs, fe.Field()+" must be one of: "+strings.ReplaceAll(fe.Param(), " ", ", "))
		case "min":
			msgs = append(msgs, fe.Field()+" must be at least "+fe.Param()+" characters")
		case "max":
			msgs = append(msgs, fe.Field()+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+" validation")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
