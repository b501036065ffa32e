package identity

// Identity supplies the id of the user running this client. It is read-only.
type Identity interface {
	LocalUserID() string
}

// Static is an Identity with a fixed user id, usually taken from config.
type Static string

func (s Static) LocalUserID() string { return string(s) }
