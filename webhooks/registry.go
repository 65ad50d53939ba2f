package webhooks

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/contractlane/go-webhooks/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TypeServiceCreation   = "serviceCreation"
	TypeBookingCreated    = "bookingCreated"
	TypeTrackingUpdated   = "trackingUpdated"
	TypePaymentSucceeded  = "paymentSucceeded"
	TypeContractSigned    = "contractSigned"
	TypeDocumentGenerated = "documentGenerated"
)

type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldObject FieldKind = "object"
)

type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
}

type Type struct {
	Tag    string
	Fields []FieldSpec
}

// Registry holds the closed set of accepted webhook types and the payload
// shape each requires. It is immutable after construction and safe for
// concurrent use.
type Registry struct {
	types map[string]Type
}

func NewRegistry() *Registry {
	r := &Registry{types: map[string]Type{}}
	r.register(Type{
		Tag: TypeServiceCreation,
		Fields: []FieldSpec{
			{Name: "service_id", Kind: FieldString, Required: true},
			{Name: "user_id", Kind: FieldString, Required: true},
			{Name: "name", Kind: FieldString, Required: true},
			{Name: "category", Kind: FieldString},
		},
	})
	r.register(Type{
		Tag: TypeBookingCreated,
		Fields: []FieldSpec{
			{Name: "booking_id", Kind: FieldString, Required: true},
			{Name: "service_id", Kind: FieldString, Required: true},
			{Name: "customer_id", Kind: FieldString, Required: true},
			{Name: "scheduled_at", Kind: FieldString, Required: true},
			{Name: "notes", Kind: FieldString},
		},
	})
	r.register(Type{
		Tag: TypeTrackingUpdated,
		Fields: []FieldSpec{
			{Name: "tracking_id", Kind: FieldString, Required: true},
			{Name: "status", Kind: FieldString, Required: true},
			{Name: "location", Kind: FieldString},
			{Name: "details", Kind: FieldObject},
		},
	})
	r.register(Type{
		Tag: TypePaymentSucceeded,
		Fields: []FieldSpec{
			{Name: "payment_id", Kind: FieldString, Required: true},
			{Name: "booking_id", Kind: FieldString, Required: true},
			{Name: "amount", Kind: FieldNumber, Required: true},
			{Name: "currency", Kind: FieldString, Required: true},
		},
	})
	r.register(Type{
		Tag: TypeContractSigned,
		Fields: []FieldSpec{
			{Name: "contract_id", Kind: FieldString, Required: true},
			{Name: "signer_id", Kind: FieldString, Required: true},
			{Name: "signed_at", Kind: FieldString, Required: true},
			{Name: "countersigned", Kind: FieldBool},
		},
	})
	r.register(Type{
		Tag: TypeDocumentGenerated,
		Fields: []FieldSpec{
			{Name: "document_id", Kind: FieldString, Required: true},
			{Name: "contract_id", Kind: FieldString, Required: true},
			{Name: "url", Kind: FieldString, Required: true},
			{Name: "pages", Kind: FieldNumber},
		},
	})
	return r
}

func (r *Registry) register(t Type) {
	r.types[t.Tag] = t
}

func (r *Registry) TypeOf(tag string) (Type, bool) {
	if r == nil {
		return Type{}, false
	}
	t, ok := r.types[strings.TrimSpace(tag)]
	return t, ok
}

func (r *Registry) Tags() []string {
	if r == nil {
		return nil
	}
	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate checks the payload structurally against the type's field specs.
// It accumulates every field error rather than stopping at the first.
func (r *Registry) Validate(tag string, payload map[string]any) error {
	t, ok := r.TypeOf(tag)
	if !ok {
		return core.NewWebhookError(
			fmt.Sprintf("webhooks: unknown webhook type %q", strings.TrimSpace(tag)),
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		)
	}

	var fieldErrors []goerrors.FieldError
	for _, spec := range t.Fields {
		value, present := payload[spec.Name]
		if !present || value == nil {
			if spec.Required {
				fieldErrors = append(fieldErrors, goerrors.FieldError{
					Field:   spec.Name,
					Message: fmt.Sprintf("%s is required", spec.Name),
				})
			}
			continue
		}
		if !matchesKind(value, spec.Kind) {
			fieldErrors = append(fieldErrors, goerrors.FieldError{
				Field:   spec.Name,
				Message: fmt.Sprintf("%s must be a %s", spec.Name, spec.Kind),
			})
		}
	}
	if len(fieldErrors) > 0 {
		return goerrors.NewValidation(
			fmt.Sprintf("webhooks: payload for %q failed validation", t.Tag),
			fieldErrors...,
		).WithCode(http.StatusBadRequest).WithTextCode(core.WebhookErrorValidationFailed)
	}
	return nil
}

func matchesKind(value any, kind FieldKind) bool {
	switch kind {
	case FieldString:
		s, ok := value.(string)
		return ok && strings.TrimSpace(s) != ""
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}
