package domain

// UserID is the opaque identifier issued by the external auth layer. The core
// never creates or validates one; it only routes and records by equality.
type UserID string

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleStudent UserRole = "student"
	RoleGeneric UserRole = "user"
)

// Identity is a user as seen by the signaling layer: an opaque id plus the
// presentation-only fields carried on offer envelopes.
type Identity struct {
	ID          UserID
	DisplayName string
	Role        UserRole
}
