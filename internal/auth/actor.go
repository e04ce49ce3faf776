package auth

// ActorKind discriminates the parties that may act on a call.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"      // the paying caller
	ActorKindExecutive ActorKind = "executive" // the callee agent
	ActorKindAdmin     ActorKind = "admin"
	ActorKindSystem    ActorKind = "system" // internal: webhook/timeout/balance enforcement
)

// Actor is the tagged identity used in guard logic.
//
// System actors have no ID; everything else must carry one.
type Actor struct {
	Kind ActorKind
	ID   string
}

func UserActor(id string) Actor      { return Actor{Kind: ActorKindUser, ID: id} }
func ExecutiveActor(id string) Actor { return Actor{Kind: ActorKindExecutive, ID: id} }
func SystemActor() Actor             { return Actor{Kind: ActorKindSystem} }

func (a Actor) IsUser() bool      { return a.Kind == ActorKindUser }
func (a Actor) IsExecutive() bool { return a.Kind == ActorKindExecutive }
func (a Actor) IsSystem() bool    { return a.Kind == ActorKindSystem }

func ValidActorKind(k ActorKind) bool {
	switch k {
	case ActorKindUser, ActorKindExecutive, ActorKindAdmin:
		return true
	default:
		return false
	}
}
