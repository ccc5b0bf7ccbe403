// Package checkout holds the field rules applied to data entered during checkout.
package checkout

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// FieldErrors maps a field path to the reason it was rejected.
type FieldErrors map[string]string

// ShippingInput is the data collected on the shipping step.
type ShippingInput struct {
	Address types.Address
	Contact string
	Guest   bool
}

// ValidateShipping checks the address and, for guests, the contact email.
// The returned error is a validation error whose details are FieldErrors.
func ValidateShipping(in ShippingInput) error {
	fields := FieldErrors{}

	addr := in.Address.Normalize()
	if err := validate.Struct(addr); err != nil {
		collect(fields, "shipping", err)
	}

	contact := strings.TrimSpace(in.Contact)
	switch {
	case in.Guest && contact == "":
		fields["contact"] = "is required"
	case contact != "":
		if err := validate.Var(contact, "email,max=254"); err != nil {
			fields["contact"] = "must be a valid email"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "shipping details are incomplete").WithDetails(fields)
}

// ValidatePaymentMethod checks the method chosen on the payment step.
func ValidatePaymentMethod(method enums.PaymentMethod) error {
	if method == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment method required").
			WithDetails(FieldErrors{"payment_method": "is required"})
	}
	if !method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment method not supported").
			WithDetails(FieldErrors{"payment_method": fmt.Sprintf("must be one of %s, %s", enums.PaymentMethodGateway, enums.PaymentMethodCOD)})
	}
	return nil
}

func collect(fields FieldErrors, prefix string, err error) {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		fields[prefix] = "is invalid"
		return
	}
	for _, fe := range errs {
		fields[prefix+"."+fe.Field()] = message(fe)
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}
