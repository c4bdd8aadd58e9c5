package models

import "time"

// User is the local identity. GatewayCustomerID stays nil until the
// provisioning collaborator (or a checkout fallback) links a gateway customer.
type User struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Email             string    `gorm:"column:email;type:varchar(320)" json:"email"`
	GatewayCustomerID *string   `gorm:"column:gateway_customer_id;type:varchar(128);uniqueIndex:uq_users_gateway_customer_id" json:"gateway_customer_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) CustomerID() string {
	if u == nil || u.GatewayCustomerID == nil {
		return ""
	}
	return *u.GatewayCustomerID
}
