package objects

import "github.com/google/uuid"

type UserInfo struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	TenantID uuid.UUID `json:"tenantID"`
	Role     string    `json:"role"`
}
