package authority

// Kind tags the role a principal holds at resolution time.
type Kind uint8

const (
	KindParticipant Kind = iota
	KindIssuer
	KindAdministrator
)

func (k Kind) String() string {
	switch k {
	case KindAdministrator:
		return "administrator"
	case KindIssuer:
		return "issuer"
	case KindParticipant:
		return "participant"
	default:
		return "unknown"
	}
}

// Principal is an authenticated identity together with the role the registry
// assigned to it.
type Principal struct {
	Kind Kind
	ID   string
}

func Administrator(id string) Principal { return Principal{Kind: KindAdministrator, ID: id} }
func Issuer(id string) Principal        { return Principal{Kind: KindIssuer, ID: id} }
func Participant(id string) Principal   { return Principal{Kind: KindParticipant, ID: id} }

// CanIssue reports whether the principal may credit rewards.
func (p Principal) CanIssue() bool {
	switch p.Kind {
	case KindAdministrator, KindIssuer:
		return true
	case KindParticipant:
		return false
	default:
		return false
	}
}

// CanAdminister reports whether the principal may manage issuers and halt.
func (p Principal) CanAdminister() bool {
	switch p.Kind {
	case KindAdministrator:
		return true
	case KindIssuer, KindParticipant:
		return false
	default:
		return false
	}
}
