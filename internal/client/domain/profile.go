package domain

// Profile is one saved admin-API endpoint: where the server listens
// and which operator token to present.
type Profile struct {
	ID       string
	Server   string
	Token    string
	Insecure bool
}

type ProfileRepository interface {
	Get(id string) (Profile, error)
	Set(id string, profile Profile) error
	Delete(id string) error
}
