package flow

// Member is the narrow view of a platform account the flow needs.
type Member interface {
	Identity() string
	DisplayName() string
	MembershipLabels() []string
	AvatarURL() string
}

// Profile is a plain Member supplied by adapters that decode requests.
type Profile struct {
	ID     string   `json:"identity"`
	Name   string   `json:"displayName"`
	Labels []string `json:"labels"`
	Avatar string   `json:"avatarUrl"`
}

func (p Profile) Identity() string           { return p.ID }
func (p Profile) DisplayName() string        { return p.Name }
func (p Profile) MembershipLabels() []string { return p.Labels }
func (p Profile) AvatarURL() string          { return p.Avatar }
