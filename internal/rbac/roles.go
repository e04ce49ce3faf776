package rbac

import "callbridge/internal/auth"

// Actor kinds allowed on the API surface. Keep these stable; they are part of
// the auth contract.
const (
	KindUser      = auth.ActorKindUser
	KindExecutive = auth.ActorKindExecutive
	KindAdmin     = auth.ActorKindAdmin
)

func IsAdmin(k auth.ActorKind) bool { return k == KindAdmin }
