package models

import "time"

type Role string

const (
	RoleAdmin    Role = "ADM"
	RoleOperator Role = "OPERATOR"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanEdit reports whether the actor may edit or delete the asset:
// administrators may touch everything, operators only what they uploaded.
func (a Actor) CanEdit(asset MediaAsset) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Id != "" && asset.OwnerId == a.Id
}

type AuditLog struct {
	Id        string    `firestore:"id" json:"id"`
	Timestamp string    `firestore:"timestamp" json:"timestamp"` // pt-BR locale, as shown to auditors
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UserId    string    `firestore:"userId" json:"userId"`
	UserName  string    `firestore:"userName" json:"userName"`
	Action    string    `firestore:"action" json:"action"`
	Target    string    `firestore:"target" json:"target"`
	IP        string    `firestore:"ip" json:"ip"`
}
