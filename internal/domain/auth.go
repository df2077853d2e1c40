package domain

// ActorRole enumerates operator roles carried by bearer tokens.
type ActorRole string

const (
	RoleRequester  ActorRole = "REQUESTER"
	RoleTechnician ActorRole = "TECHNICIAN"
	RoleDispatcher ActorRole = "DISPATCHER"
	RoleAdmin      ActorRole = "ADMIN"
)

// SystemActorID attributes entries written by background workers.
const SystemActorID = "system"

// Actor is the already-authenticated caller an operation is attributed to.
type Actor struct {
	ID   string
	Role ActorRole
}

// SystemActor is used by the SLA sweep and other unattended jobs.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Role: RoleAdmin}
}
