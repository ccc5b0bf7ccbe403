package enums

import "fmt"

// ShopperRole is the role carried in access tokens.
type ShopperRole string

const (
	ShopperRoleCustomer ShopperRole = "customer"
	ShopperRoleOperator ShopperRole = "operator"
)

func (r ShopperRole) String() string {
	return string(r)
}

func (r ShopperRole) IsValid() bool {
	switch r {
	case ShopperRoleCustomer, ShopperRoleOperator:
		return true
	default:
		return false
	}
}

func ParseShopperRole(value string) (ShopperRole, error) {
	role := ShopperRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid shopper role %q", value)
	}
	return role, nil
}
