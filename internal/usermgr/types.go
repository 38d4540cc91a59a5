package usermgr

type PasswdEntry struct {
	Name   string
	Passwd string
	UID    int
	GID    int
	Gecos  string
	Home   string
	Shell  string
}

type ShadowEntry struct {
	Name       string
	Hash       string
	LastChange string
	Min        string
	Max        string
	Warn       string
	Inactive   string
	Expire     string
	Reserved   string
}

type GroupEntry struct {
	Name    string
	Passwd  string
	GID     int
	Members []string
}

// CreateUserRequest describes a new login account.
type CreateUserRequest struct {
	Username     string
	UID          int
	GID          int
	PasswordHash string // crypt(3) string; empty locks the account
	Home         string
	Shell        string
}
